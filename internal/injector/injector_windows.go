//go:build windows

package injector

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsInjector synthesizes input with SendInput. Text goes in as
// KEYEVENTF_UNICODE events, so it is layout-independent; control keys use
// virtual key codes.
type windowsInjector struct{}

func newPlatformInjector() Injector {
	return &windowsInjector{}
}

var (
	modUser32               = windows.NewLazySystemDLL("user32.dll")
	procSendInput           = modUser32.NewProc("SendInput")
	procGetForegroundWindow = modUser32.NewProc("GetForegroundWindow")
)

const (
	inputKeyboard = 1

	keyeventfKeyup   = 0x0002
	keyeventfUnicode = 0x0004

	vkBack    = 0x08
	vkLeft    = 0x25
	vkControl = 0x11
	vkV       = 0x56
)

// keybdInput mirrors the KEYBDINPUT-in-INPUT layout on 64-bit Windows.
type keybdInput struct {
	Type      uint32
	_         uint32 // alignment
	Vk        uint16
	Scan      uint16
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
	_         [8]byte // widen to sizeof(INPUT): the union covers MOUSEINPUT
}

func (w *windowsInjector) Available() (bool, string) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return false, "no foreground window"
	}
	return true, "SendInput"
}

func (w *windowsInjector) TypeText(text string) error {
	if text == "" {
		return nil
	}
	units := utf16Units(text)
	inputs := make([]keybdInput, 0, len(units)*2)
	for _, u := range units {
		inputs = append(inputs,
			keybdInput{Type: inputKeyboard, Scan: u, Flags: keyeventfUnicode},
			keybdInput{Type: inputKeyboard, Scan: u, Flags: keyeventfUnicode | keyeventfKeyup},
		)
	}
	return send(inputs)
}

func (w *windowsInjector) Backspace(n int) error {
	return w.pressKey(vkBack, n)
}

func (w *windowsInjector) MoveLeft(n int) error {
	return w.pressKey(vkLeft, n)
}

func (w *windowsInjector) Paste() error {
	inputs := []keybdInput{
		{Type: inputKeyboard, Vk: vkControl},
		{Type: inputKeyboard, Vk: vkV},
		{Type: inputKeyboard, Vk: vkV, Flags: keyeventfKeyup},
		{Type: inputKeyboard, Vk: vkControl, Flags: keyeventfKeyup},
	}
	return send(inputs)
}

func (w *windowsInjector) pressKey(vk uint16, n int) error {
	if n <= 0 {
		return nil
	}
	inputs := make([]keybdInput, 0, n*2)
	for i := 0; i < n; i++ {
		inputs = append(inputs,
			keybdInput{Type: inputKeyboard, Vk: vk},
			keybdInput{Type: inputKeyboard, Vk: vk, Flags: keyeventfKeyup},
		)
	}
	return send(inputs)
}

func send(inputs []keybdInput) error {
	if len(inputs) == 0 {
		return nil
	}
	ret, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(ret) != len(inputs) {
		return fmt.Errorf("SendInput delivered %d of %d events: %w", ret, len(inputs), err)
	}
	return nil
}

func utf16Units(s string) []uint16 {
	units, err := windows.UTF16FromString(s)
	if err != nil {
		return nil
	}
	// Drop the trailing NUL.
	if n := len(units); n > 0 && units[n-1] == 0 {
		units = units[:n-1]
	}
	return units
}
