//go:build linux

package keystroke

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sys/unix"
)

// LinuxSource reads /dev/input event devices directly. Keyboard devices
// feed character and control events; pointer devices contribute context
// switches on button clicks, since a click usually moves the caret or the
// focus and a half-typed trigger is no longer contiguous.
type LinuxSource struct {
	BaseSource
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	keyboards []string
	pointers  []string
}

// decoder tracks modifier state for one keyboard device. Each read
// goroutine owns its decoder, so two keyboards never share state.
// Held modifiers are per-key bits: releasing one ctrl must not clear
// the chord while the other ctrl, or an alt, is still down.
type decoder struct {
	shift uint8 // held shift keys
	caps  bool
	mods  uint8 // held ctrl/alt/meta keys
}

func (d *decoder) shiftHeld() bool { return d.shift != 0 }
func (d *decoder) chordHeld() bool { return d.mods != 0 }

// modifierBit assigns each modifier key its own bit within its field.
func modifierBit(code uint16) uint8 {
	switch code {
	case keyLeftShift, keyLeftCtrl:
		return 1 << 0
	case keyRightShift, keyRightCtrl:
		return 1 << 1
	case keyLeftAlt:
		return 1 << 2
	case keyRightAlt:
		return 1 << 3
	case keyLeftMeta:
		return 1 << 4
	case keyRightMeta:
		return 1 << 5
	}
	return 0
}

func setHeld(field *uint8, bit uint8, value int32) {
	if value == keyRelease {
		*field &^= bit
	} else {
		*field |= bit
	}
}

func newPlatformSource() Source {
	return &LinuxSource{}
}

// Available checks if we can read input devices.
func (l *LinuxSource) Available() (bool, string) {
	keyboards, _, err := findInputDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot enumerate input devices: %v", err)
	}
	if len(keyboards) == 0 {
		return false, "no keyboard devices found"
	}
	for _, dev := range keyboards {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("reading keyboard device: %s", dev)
		}
	}
	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// findInputDevices parses /proc/bus/input/devices into keyboard and
// pointer event nodes.
func findInputDevices() (keyboards, pointers []string, err error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var handler string
	var isKeyboard, isPointer bool

	flush := func() {
		if handler != "" {
			switch {
			case isKeyboard:
				keyboards = append(keyboards, handler)
			case isPointer:
				pointers = append(pointers, handler)
			}
		}
		handler = ""
		isKeyboard = false
		isPointer = false
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
				if strings.HasPrefix(part, "mouse") {
					isPointer = true
				}
				if part == "kbd" {
					isKeyboard = true
				}
			}
		}
		if line == "" {
			flush()
		}
	}
	flush()

	// Stable by-id names, deduplicated against the proc scan.
	for _, m := range globMissing(keyboards, "/dev/input/by-id/*-kbd") {
		keyboards = append(keyboards, m)
	}
	return keyboards, pointers, scanner.Err()
}

func globMissing(have []string, pattern string) []string {
	matches, _ := filepath.Glob(pattern)
	var out []string
	for _, m := range matches {
		resolved, err := filepath.EvalSymlinks(m)
		if err != nil {
			continue
		}
		found := false
		for _, h := range have {
			if h == resolved {
				found = true
				break
			}
		}
		if !found {
			out = append(out, resolved)
		}
	}
	return out
}

// Start begins observation on every readable keyboard and pointer device.
func (l *LinuxSource) Start(ctx context.Context) error {
	if l.IsRunning() {
		return ErrAlreadyRunning
	}

	keyboards, pointers, err := findInputDevices()
	if err != nil || len(keyboards) == 0 {
		return ErrNotAvailable
	}

	// Probe access up front so permission problems surface at Start
	// rather than as a silently idle daemon.
	opened := 0
	var lastErr error
	for _, dev := range keyboards {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err != nil {
			lastErr = err
			continue
		}
		f.Close()
		opened++
	}
	if opened == 0 {
		if errors.Is(lastErr, os.ErrPermission) {
			return ErrPermissionDenied
		}
		return ErrNotAvailable
	}

	l.keyboards = keyboards
	l.pointers = pointers
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.Events() // allocate before the readers can emit
	l.SetRunning(true)

	for _, dev := range l.keyboards {
		l.wg.Add(1)
		go l.readLoop(dev, true)
	}
	for _, dev := range l.pointers {
		l.wg.Add(1)
		go l.readLoop(dev, false)
	}
	return nil
}

// inputEvent matches the Linux input_event struct on 64-bit targets.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const inputEventSize = 24

const (
	evKey      = 1
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// readLoop reads one device until the context ends. The descriptor is
// opened non-blocking and polled with a timeout so Stop never waits on a
// quiet keyboard.
func (l *LinuxSource) readLoop(dev string, keyboard bool) {
	defer l.wg.Done()

	fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	defer unix.Close(fd)

	var dec decoder
	buf := make([]byte, inputEventSize*16)
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		nr, err := unix.Read(fd, buf)
		if err != nil || nr < inputEventSize {
			continue
		}
		for off := 0; off+inputEventSize <= nr; off += inputEventSize {
			var ev inputEvent
			ev.Type = binary.LittleEndian.Uint16(buf[off+16 : off+18])
			ev.Code = binary.LittleEndian.Uint16(buf[off+18 : off+20])
			ev.Value = int32(binary.LittleEndian.Uint32(buf[off+20 : off+24]))
			if ev.Type != evKey {
				continue
			}
			if keyboard {
				l.handleKey(&dec, ev.Code, ev.Value)
			} else {
				l.handleButton(ev.Code, ev.Value)
			}
		}
	}
}

// handleKey decodes one keyboard event into a normalized Event.
func (l *LinuxSource) handleKey(dec *decoder, code uint16, value int32) {
	now := time.Now()

	// Modifier bookkeeping needs both press and release. Shift and caps
	// only alter decoding and must not disturb the match buffer.
	switch code {
	case keyLeftShift, keyRightShift:
		setHeld(&dec.shift, modifierBit(code), value)
		return
	case keyCapsLock:
		if value == keyPress {
			dec.caps = !dec.caps
		}
		return
	case keyLeftCtrl, keyRightCtrl, keyLeftAlt, keyRightAlt, keyLeftMeta, keyRightMeta:
		setHeld(&dec.mods, modifierBit(code), value)
		if value == keyPress {
			l.Emit(Event{Kind: KindControl, Key: keyName(code), When: now})
		}
		return
	}

	if value != keyPress && value != keyRepeat {
		return
	}

	if code == keyBackspace {
		l.Emit(Event{Kind: KindBackspace, When: now})
		return
	}

	if r, ok := dec.decode(code); ok {
		if dec.chordHeld() {
			// Part of a shortcut, not text.
			l.Emit(Event{Kind: KindControl, Key: "chord", When: now})
			return
		}
		l.Emit(Event{Kind: KindChar, Rune: r, When: now})
		return
	}

	if value == keyPress {
		l.Emit(Event{Kind: KindControl, Key: keyName(code), When: now})
	}
}

// handleButton maps pointer button presses to context switches.
func (l *LinuxSource) handleButton(code uint16, value int32) {
	if value != keyPress {
		return
	}
	switch code {
	case btnLeft, btnRight, btnMiddle:
		l.Emit(Event{Kind: KindContextSwitch, When: time.Now()})
	}
}

// decode maps an evdev code to the character it produces under the
// current modifier state, assuming a US layout. Layout-aware decoding
// would need the active XKB map; US covers the common case and anything
// unmapped degrades to a control event, which only clears the buffer.
func (d *decoder) decode(code uint16) (rune, bool) {
	r, ok := keymapBase[code]
	if !ok {
		return 0, false
	}
	if d.shiftHeld() {
		if s, ok := keymapShift[code]; ok {
			return s, true
		}
	}
	if unicode.IsLetter(r) && (d.shiftHeld() != d.caps) {
		return unicode.ToUpper(r), true
	}
	return r, true
}

// evdev key codes from linux/input-event-codes.h.
const (
	keyEsc        = 1
	keyBackspace  = 14
	keyTab        = 15
	keyEnter      = 28
	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyCapsLock   = 58
	keyKPEnter    = 96
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyHome       = 102
	keyUp         = 103
	keyPageUp     = 104
	keyLeft       = 105
	keyRight      = 106
	keyEnd        = 107
	keyDown       = 108
	keyPageDown   = 109
	keyInsert     = 110
	keyDelete     = 111
	keyLeftMeta   = 125
	keyRightMeta  = 126

	btnLeft   = 272
	btnRight  = 273
	btnMiddle = 274
)

var keymapBase = map[uint16]rune{
	2: '1', 3: '2', 4: '3', 5: '4', 6: '5', 7: '6', 8: '7', 9: '8', 10: '9', 11: '0',
	12: '-', 13: '=',
	16: 'q', 17: 'w', 18: 'e', 19: 'r', 20: 't', 21: 'y', 22: 'u', 23: 'i', 24: 'o', 25: 'p',
	26: '[', 27: ']',
	30: 'a', 31: 's', 32: 'd', 33: 'f', 34: 'g', 35: 'h', 36: 'j', 37: 'k', 38: 'l',
	39: ';', 40: '\'', 41: '`', 43: '\\',
	44: 'z', 45: 'x', 46: 'c', 47: 'v', 48: 'b', 49: 'n', 50: 'm',
	51: ',', 52: '.', 53: '/',
	57: ' ',
}

var keymapShift = map[uint16]rune{
	2: '!', 3: '@', 4: '#', 5: '$', 6: '%', 7: '^', 8: '&', 9: '*', 10: '(', 11: ')',
	12: '_', 13: '+',
	26: '{', 27: '}',
	39: ':', 40: '"', 41: '~', 43: '|',
	51: '<', 52: '>', 53: '?',
}

func keyName(code uint16) string {
	switch code {
	case keyEsc:
		return "esc"
	case keyTab:
		return "tab"
	case keyEnter, keyKPEnter:
		return "enter"
	case keyLeftCtrl, keyRightCtrl:
		return "ctrl"
	case keyLeftAlt, keyRightAlt:
		return "alt"
	case keyLeftMeta, keyRightMeta:
		return "meta"
	case keyHome:
		return "home"
	case keyEnd:
		return "end"
	case keyUp:
		return "up"
	case keyDown:
		return "down"
	case keyLeft:
		return "left"
	case keyRight:
		return "right"
	case keyPageUp:
		return "pageup"
	case keyPageDown:
		return "pagedown"
	case keyInsert:
		return "insert"
	case keyDelete:
		return "delete"
	}
	return fmt.Sprintf("key%d", code)
}

// Stop stops observation and waits for the device readers to exit.
func (l *LinuxSource) Stop() error {
	if !l.IsRunning() {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.SetRunning(false)
	l.CloseEvents()
	return nil
}
