//go:build windows

package clipboard

import (
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

var (
	user32   = syscall.NewLazyDLL("user32.dll")
	kernel32 = syscall.NewLazyDLL("kernel32.dll")

	procOpenClipboard              = user32.NewProc("OpenClipboard")
	procCloseClipboard             = user32.NewProc("CloseClipboard")
	procEmptyClipboard             = user32.NewProc("EmptyClipboard")
	procGetClipboardData           = user32.NewProc("GetClipboardData")
	procSetClipboardData           = user32.NewProc("SetClipboardData")
	procIsClipboardFormatAvailable = user32.NewProc("IsClipboardFormatAvailable")
	procRegisterClipboardFormat    = user32.NewProc("RegisterClipboardFormatW")

	procGlobalAlloc  = kernel32.NewProc("GlobalAlloc")
	procGlobalFree   = kernel32.NewProc("GlobalFree")
	procGlobalLock   = kernel32.NewProc("GlobalLock")
	procGlobalUnlock = kernel32.NewProc("GlobalUnlock")
)

const (
	cfUnicodeText = 13
	gmemMoveable  = 0x0002
)

// windowsPort talks to the Win32 clipboard API directly. OpenClipboard
// can fail transiently while another process holds the clipboard, so
// every operation retries briefly before giving up.
type windowsPort struct{}

func newPlatformPort() Port {
	return &windowsPort{}
}

// open acquires the clipboard, retrying while another process holds it.
func (w *windowsPort) open() error {
	for i := 0; i < 10; i++ {
		ret, _, _ := procOpenClipboard.Call(0)
		if ret != 0 {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("clipboard: open failed (held by another process)")
}

func (w *windowsPort) ReadText() (string, error) {
	if err := w.open(); err != nil {
		return "", err
	}
	defer procCloseClipboard.Call()

	avail, _, _ := procIsClipboardFormatAvailable.Call(cfUnicodeText)
	if avail == 0 {
		return "", ErrNoText
	}
	handle, _, _ := procGetClipboardData.Call(cfUnicodeText)
	if handle == 0 {
		return "", ErrNoText
	}
	ptr, _, _ := procGlobalLock.Call(handle)
	if ptr == 0 {
		return "", ErrNoText
	}
	defer procGlobalUnlock.Call(handle)

	var units []uint16
	for i := 0; ; i++ {
		u := *(*uint16)(unsafe.Pointer(ptr + uintptr(i*2)))
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return syscall.UTF16ToString(units), nil
}

func (w *windowsPort) WriteText(text string) error {
	units, err := syscall.UTF16FromString(text)
	if err != nil {
		return fmt.Errorf("clipboard: encode text: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	defer procCloseClipboard.Call()

	if ret, _, _ := procEmptyClipboard.Call(); ret == 0 {
		return fmt.Errorf("clipboard: empty failed")
	}
	if err := setData(cfUnicodeText, utf16Bytes(units)); err != nil {
		return err
	}
	return nil
}

func (w *windowsPort) Write(p Payload) error {
	units, err := syscall.UTF16FromString(p.Text)
	if err != nil {
		return fmt.Errorf("clipboard: encode text: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	defer procCloseClipboard.Call()

	if ret, _, _ := procEmptyClipboard.Call(); ret == 0 {
		return fmt.Errorf("clipboard: empty failed")
	}
	if err := setData(cfUnicodeText, utf16Bytes(units)); err != nil {
		return err
	}
	if p.HTML != "" {
		if format := htmlFormat(); format != 0 {
			// Best effort: plain text is already on the clipboard.
			_ = setData(format, []byte(cfHTMLBody(p.HTML)))
		}
	}
	return nil
}

// setData copies data into moveable global memory and hands it to the
// clipboard. Ownership of the allocation transfers on success.
func setData(format uintptr, data []byte) error {
	size := len(data) + 2 // always NUL-terminated, wide or narrow
	h, _, _ := procGlobalAlloc.Call(gmemMoveable, uintptr(size))
	if h == 0 {
		return fmt.Errorf("clipboard: GlobalAlloc failed")
	}
	ptr, _, _ := procGlobalLock.Call(h)
	if ptr == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("clipboard: GlobalLock failed")
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	copy(dst, data)
	dst[size-2] = 0
	dst[size-1] = 0
	procGlobalUnlock.Call(h)

	if ret, _, _ := procSetClipboardData.Call(format, h); ret == 0 {
		procGlobalFree.Call(h)
		return fmt.Errorf("clipboard: SetClipboardData failed")
	}
	return nil
}

func utf16Bytes(units []uint16) []byte {
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[i*2] = byte(u)
		out[i*2+1] = byte(u >> 8)
	}
	return out
}

// htmlFormat returns the registered "HTML Format" clipboard format id.
func htmlFormat() uintptr {
	name, err := syscall.UTF16PtrFromString("HTML Format")
	if err != nil {
		return 0
	}
	ret, _, _ := procRegisterClipboardFormat.Call(uintptr(unsafe.Pointer(name)))
	return ret
}

// cfHTMLBody wraps an HTML fragment in the CF_HTML envelope with the
// byte-offset header the format requires.
func cfHTMLBody(html string) string {
	const header = "Version:0.9\r\nStartHTML:%08d\r\nEndHTML:%08d\r\nStartFragment:%08d\r\nEndFragment:%08d\r\n"
	const pre = "<html><body><!--StartFragment-->"
	const post = "<!--EndFragment--></body></html>"

	headerLen := len(fmt.Sprintf(header, 0, 0, 0, 0))
	startHTML := headerLen
	startFrag := startHTML + len(pre)
	endFrag := startFrag + len(html)
	endHTML := endFrag + len(post)

	return fmt.Sprintf(header, startHTML, endHTML, startFrag, endFrag) + pre + html + post
}
