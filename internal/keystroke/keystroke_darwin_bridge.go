//go:build darwin && cgo

package keystroke

// This file holds the exported callbacks the event-tap C code calls into.
// cgo forbids C function definitions in a file that uses //export, so the
// tap implementation lives in keystroke_darwin.go and only the bridge is
// here.

import "C"

import (
	"sync"
	"time"
)

var (
	activeMu     sync.RWMutex
	activeSource *DarwinSource
)

func setActiveDarwinSource(d *DarwinSource) {
	activeMu.Lock()
	activeSource = d
	activeMu.Unlock()
}

// CGEventFlags modifier masks.
const (
	flagShift   = 1 << 17
	flagControl = 1 << 18
	flagOption  = 1 << 19
	flagCommand = 1 << 20
)

// macOS virtual keycodes for keys the matcher treats as control input.
var darwinKeyNames = map[uint16]string{
	36:  "enter",
	48:  "tab",
	53:  "esc",
	76:  "enter", // keypad
	115: "home",
	116: "pageup",
	117: "delete",
	119: "end",
	121: "pagedown",
	123: "left",
	124: "right",
	125: "down",
	126: "up",
}

const darwinBackspace = 51

//export snipdKeyEvent
func snipdKeyEvent(keycode C.ushort, scalar C.uint, flags C.ulonglong) {
	activeMu.RLock()
	d := activeSource
	activeMu.RUnlock()
	if d == nil {
		return
	}

	now := time.Now()
	code := uint16(keycode)

	if code == darwinBackspace {
		d.Emit(Event{Kind: KindBackspace, When: now})
		return
	}
	if name, ok := darwinKeyNames[code]; ok {
		d.Emit(Event{Kind: KindControl, Key: name, When: now})
		return
	}
	// Command or Control chords are shortcuts, not text. Option chords
	// stay text: the tap's unicode string already reflects the composed
	// character (option-g is a copyright sign, not a chord).
	if flags&(flagCommand|flagControl) != 0 {
		d.Emit(Event{Kind: KindControl, Key: "chord", When: now})
		return
	}

	r := rune(uint32(scalar))
	if r >= 0x20 && r != 0x7f {
		d.Emit(Event{Kind: KindChar, Rune: r, When: now})
		return
	}
	d.Emit(Event{Kind: KindControl, Key: "key", When: now})
}

//export snipdMouseEvent
func snipdMouseEvent() {
	activeMu.RLock()
	d := activeSource
	activeMu.RUnlock()
	if d == nil {
		return
	}
	d.Emit(Event{Kind: KindContextSwitch, When: time.Now()})
}
