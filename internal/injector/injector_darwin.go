//go:build darwin

package injector

import (
	"fmt"
	"os/exec"
	"strings"
)

// darwinInjector drives System Events through osascript. The process
// needs Accessibility permission, the same grant the event tap requires,
// so a denial here and in the monitor surface as one condition to fix.
type darwinInjector struct{}

func newPlatformInjector() Injector {
	return &darwinInjector{}
}

func (d *darwinInjector) Available() (bool, string) {
	// System Events refuses scripted keystrokes without the
	// Accessibility grant; probe with a harmless query.
	err := exec.Command("osascript", "-e",
		`tell application "System Events" to get name of first process whose frontmost is true`).Run()
	if err != nil {
		return false, "Accessibility permission not granted (System Settings > Privacy & Security > Accessibility)"
	}
	return true, "System Events scripting"
}

func (d *darwinInjector) TypeText(text string) error {
	if text == "" {
		return nil
	}
	// "keystroke" handles only characters the current layout can type;
	// newlines become key code 36 presses.
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.WriteString(`tell application "System Events"` + "\n")
	for i, line := range lines {
		if line != "" {
			fmt.Fprintf(&b, "keystroke %s\n", appleScriptString(line))
		}
		if i < len(lines)-1 {
			b.WriteString("key code 36\n")
		}
	}
	b.WriteString("end tell")
	return run(b.String())
}

func (d *darwinInjector) Backspace(n int) error {
	return repeatKeyCode(51, n)
}

func (d *darwinInjector) MoveLeft(n int) error {
	return repeatKeyCode(123, n)
}

func (d *darwinInjector) Paste() error {
	return run(`tell application "System Events" to keystroke "v" using command down`)
}

func repeatKeyCode(code, n int) error {
	if n <= 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`tell application "System Events"` + "\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "key code %d\n", code)
	}
	b.WriteString("end tell")
	return run(b.String())
}

func run(script string) error {
	out, err := exec.Command("osascript", "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %w (%s)", err, string(out))
	}
	return nil
}

// appleScriptString quotes text as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
