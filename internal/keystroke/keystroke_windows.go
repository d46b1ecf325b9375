//go:build windows

package keystroke

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// WindowsSource observes input through low-level keyboard and mouse
// hooks (WH_KEYBOARD_LL / WH_MOUSE_LL). Both hooks live on one dedicated
// OS thread running a message pump; Stop posts WM_QUIT to that thread
// and waits for the hooks to unhook.
//
// Events carrying LLKHF_INJECTED are forwarded with the Synthetic tag
// set, so the engine can discard our own SendInput output without
// depending on echo counting alone.
type WindowsSource struct {
	BaseSource
	ctx      context.Context
	cancel   context.CancelFunc
	threadID uint32
	done     chan struct{}
}

func newPlatformSource() Source {
	return &WindowsSource{}
}

var (
	user32                = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookEx  = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHook = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx    = user32.NewProc("CallNextHookEx")
	procGetMessage        = user32.NewProc("GetMessageW")
	procPostThreadMessage = user32.NewProc("PostThreadMessageW")
	procGetKeyState       = user32.NewProc("GetKeyState")
	procToUnicodeEx       = user32.NewProc("ToUnicodeEx")
	procGetKeyboardLayout = user32.NewProc("GetKeyboardLayout")
)

// Hook callbacks are registered once; NewCallback slots are a global,
// never-released resource.
var (
	keyboardCallback = windows.NewCallback(keyboardProc)
	mouseCallback    = windows.NewCallback(mouseProc)
)

const (
	whKeyboardLL = 13
	whMouseLL    = 14

	wmKeyDown     = 0x0100
	wmSysKeyDown  = 0x0104
	wmLButtonDown = 0x0201
	wmRButtonDown = 0x0204
	wmMButtonDown = 0x0207
	wmQuit        = 0x0012

	llkhfInjected = 0x10

	vkBack    = 0x08
	vkTab     = 0x09
	vkReturn  = 0x0D
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkCapital = 0x14
	vkEscape  = 0x1B
	vkPrior   = 0x21
	vkNext    = 0x22
	vkEnd     = 0x23
	vkHome    = 0x24
	vkLeft    = 0x25
	vkUp      = 0x26
	vkRight   = 0x27
	vkDown    = 0x28
	vkInsert  = 0x2D
	vkDelete  = 0x2E
	vkLWin    = 0x5B
	vkRWin    = 0x5C
)

// kbdllHookStruct mirrors KBDLLHOOKSTRUCT.
type kbdllHookStruct struct {
	VKCode    uint32
	ScanCode  uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

// msllHookStruct mirrors MSLLHOOKSTRUCT.
type msllHookStruct struct {
	PtX       int32
	PtY       int32
	MouseData uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

// msg mirrors MSG for the pump.
type msg struct {
	HWnd     uintptr
	Message  uint32
	WParam   uintptr
	LParam   uintptr
	Time     uint32
	PtX      int32
	PtY      int32
	LPrivate uint32
}

var (
	winActiveMu sync.RWMutex
	winActive   *WindowsSource
)

// Available reports hook availability. Low-level hooks need no special
// privilege, only an interactive desktop session.
func (w *WindowsSource) Available() (bool, string) {
	return true, "low-level keyboard hook available"
}

// Start installs the hooks on a dedicated message-pump thread.
func (w *WindowsSource) Start(ctx context.Context) error {
	if w.IsRunning() {
		return ErrAlreadyRunning
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.Events() // allocate before the hook can emit

	winActiveMu.Lock()
	winActive = w
	winActiveMu.Unlock()

	ready := make(chan error, 1)
	go w.hookThread(ready)

	if err := <-ready; err != nil {
		winActiveMu.Lock()
		winActive = nil
		winActiveMu.Unlock()
		return err
	}
	w.SetRunning(true)
	return nil
}

// hookThread installs both hooks and pumps messages until WM_QUIT. The
// hook callbacks run on this thread, so it must stay locked to the OS
// thread for the lifetime of the hooks.
func (w *WindowsSource) hookThread(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	w.threadID = windows.GetCurrentThreadId()

	kbHook, _, _ := procSetWindowsHookEx.Call(
		whKeyboardLL, keyboardCallback, 0, 0)
	if kbHook == 0 {
		ready <- fmt.Errorf("install keyboard hook: %w", ErrNotAvailable)
		return
	}
	mouseHook, _, _ := procSetWindowsHookEx.Call(
		whMouseLL, mouseCallback, 0, 0)

	ready <- nil

	var m msg
	for {
		r, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		// 0 = WM_QUIT, ^0 = error; either way the pump ends.
		if int32(r) <= 0 {
			break
		}
	}

	procUnhookWindowsHook.Call(kbHook)
	if mouseHook != 0 {
		procUnhookWindowsHook.Call(mouseHook)
	}
}

func keyboardProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) >= 0 && (wParam == wmKeyDown || wParam == wmSysKeyDown) {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		winActiveMu.RLock()
		w := winActive
		winActiveMu.RUnlock()
		if w != nil {
			w.handleKey(kb)
		}
	}
	r, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return r
}

func mouseProc(nCode, wParam, lParam uintptr) uintptr {
	if int32(nCode) >= 0 {
		switch wParam {
		case wmLButtonDown, wmRButtonDown, wmMButtonDown:
			ms := (*msllHookStruct)(unsafe.Pointer(lParam))
			winActiveMu.RLock()
			w := winActive
			winActiveMu.RUnlock()
			if w != nil {
				w.Emit(Event{
					Kind:      KindContextSwitch,
					Synthetic: ms.Flags&1 != 0, // LLMHF_INJECTED
					When:      time.Now(),
				})
			}
		}
	}
	r, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return r
}

// handleKey classifies one key-down. Runs on the hook thread and must
// stay quick: translation is a pair of user32 calls, emission is a
// non-blocking channel send.
func (w *WindowsSource) handleKey(kb *kbdllHookStruct) {
	now := time.Now()
	synthetic := kb.Flags&llkhfInjected != 0
	vk := uint16(kb.VKCode)

	switch vk {
	case vkBack:
		w.Emit(Event{Kind: KindBackspace, Synthetic: synthetic, When: now})
		return
	case vkShift, vkCapital, 0xA0, 0xA1:
		// Shift and caps only shape translation.
		return
	case vkControl, vkMenu, vkLWin, vkRWin, 0xA2, 0xA3, 0xA4, 0xA5:
		w.Emit(Event{Kind: KindControl, Key: winKeyName(vk), Synthetic: synthetic, When: now})
		return
	case vkReturn, vkTab, vkEscape, vkPrior, vkNext, vkEnd, vkHome,
		vkLeft, vkUp, vkRight, vkDown, vkInsert, vkDelete:
		w.Emit(Event{Kind: KindControl, Key: winKeyName(vk), Synthetic: synthetic, When: now})
		return
	}

	if keyDown(vkControl) || keyDown(vkMenu) || keyDown(vkLWin) || keyDown(vkRWin) {
		// Part of a shortcut, not text.
		w.Emit(Event{Kind: KindControl, Key: "chord", Synthetic: synthetic, When: now})
		return
	}

	if r, ok := translateKey(vk, kb.ScanCode); ok {
		w.Emit(Event{Kind: KindChar, Rune: r, Synthetic: synthetic, When: now})
		return
	}
	w.Emit(Event{Kind: KindControl, Key: winKeyName(vk), Synthetic: synthetic, When: now})
}

// keyDown reports whether a virtual key is currently held.
func keyDown(vk uint16) bool {
	r, _, _ := procGetKeyState.Call(uintptr(vk))
	return uint16(r)&0x8000 != 0
}

// translateKey maps a virtual key to the character it produces under the
// current keyboard layout and modifier state.
func translateKey(vk uint16, scanCode uint32) (rune, bool) {
	var state [256]byte
	if keyDown(vkShift) {
		state[vkShift] = 0x80
	}
	if capsOn, _, _ := procGetKeyState.Call(uintptr(vkCapital)); capsOn&1 != 0 {
		state[vkCapital] = 0x01
	}

	layout, _, _ := procGetKeyboardLayout.Call(0)

	var buf [4]uint16
	n, _, _ := procToUnicodeEx.Call(
		uintptr(vk),
		uintptr(scanCode),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		0,
		layout,
	)
	switch int32(n) {
	case 1:
		r := rune(buf[0])
		if r >= 0x20 && r != 0x7f {
			return r, true
		}
		return 0, false
	case 2:
		// Surrogate pair.
		hi, lo := rune(buf[0]), rune(buf[1])
		if hi >= 0xD800 && hi <= 0xDBFF && lo >= 0xDC00 && lo <= 0xDFFF {
			return 0x10000 + (hi-0xD800)<<10 + (lo - 0xDC00), true
		}
		return 0, false
	}
	return 0, false
}

func winKeyName(vk uint16) string {
	switch vk {
	case vkReturn:
		return "enter"
	case vkTab:
		return "tab"
	case vkEscape:
		return "esc"
	case vkControl, 0xA2, 0xA3:
		return "ctrl"
	case vkMenu, 0xA4, 0xA5:
		return "alt"
	case vkLWin, vkRWin:
		return "meta"
	case vkHome:
		return "home"
	case vkEnd:
		return "end"
	case vkUp:
		return "up"
	case vkDown:
		return "down"
	case vkLeft:
		return "left"
	case vkRight:
		return "right"
	case vkPrior:
		return "pageup"
	case vkNext:
		return "pagedown"
	case vkInsert:
		return "insert"
	case vkDelete:
		return "delete"
	}
	return fmt.Sprintf("vk%#x", vk)
}

// Stop posts WM_QUIT to the pump thread and waits for the hooks to come
// down.
func (w *WindowsSource) Stop() error {
	if !w.IsRunning() {
		return nil
	}
	if w.threadID != 0 {
		procPostThreadMessage.Call(uintptr(w.threadID), wmQuit, 0, 0)
	}
	if w.done != nil {
		select {
		case <-w.done:
		case <-time.After(2 * time.Second):
		}
	}
	winActiveMu.Lock()
	if winActive == w {
		winActive = nil
	}
	winActiveMu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	w.SetRunning(false)
	w.CloseEvents()
	return nil
}
