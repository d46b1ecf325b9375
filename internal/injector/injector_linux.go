//go:build linux

package injector

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// linuxInjector shells out to the session's typing tool: wtype under
// Wayland, xdotool under X11, ydotool as a last resort. Which tool is in
// play is probed once, on first use, so a missing tool surfaces as
// ErrNotAvailable instead of a failure mid-expansion.
type linuxInjector struct {
	tool string
}

func newPlatformInjector() Injector {
	return &linuxInjector{tool: probeTool()}
}

func probeTool() string {
	candidates := []string{"xdotool", "wtype", "ydotool"}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		candidates = []string{"wtype", "ydotool", "xdotool"}
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c); err == nil {
			return c
		}
	}
	return ""
}

func (l *linuxInjector) Available() (bool, string) {
	if l.tool == "" {
		return false, "no typing tool found (install xdotool, wtype, or ydotool)"
	}
	return true, "using " + l.tool
}

func (l *linuxInjector) TypeText(text string) error {
	if text == "" {
		return nil
	}
	switch l.tool {
	case "xdotool":
		return l.run("type", "--clearmodifiers", "--delay", "0", "--", text)
	case "wtype":
		return l.run("--", text)
	case "ydotool":
		return l.run("type", "--", text)
	}
	return ErrNotAvailable
}

func (l *linuxInjector) Backspace(n int) error {
	return l.pressKey("BackSpace", n)
}

func (l *linuxInjector) MoveLeft(n int) error {
	return l.pressKey("Left", n)
}

func (l *linuxInjector) Paste() error {
	switch l.tool {
	case "xdotool":
		return l.run("key", "--clearmodifiers", "ctrl+v")
	case "wtype":
		return l.run("-M", "ctrl", "-k", "v", "-m", "ctrl")
	case "ydotool":
		return l.run("key", "29:1", "47:1", "47:0", "29:0") // ctrl+v scancodes
	}
	return ErrNotAvailable
}

func (l *linuxInjector) pressKey(key string, n int) error {
	if n <= 0 {
		return nil
	}
	switch l.tool {
	case "xdotool":
		return l.run("key", "--clearmodifiers", "--repeat", strconv.Itoa(n), "--delay", "0", key)
	case "wtype":
		args := make([]string, 0, n*2)
		for i := 0; i < n; i++ {
			args = append(args, "-k", key)
		}
		return l.run(args...)
	case "ydotool":
		code := "14" // KEY_BACKSPACE
		if key == "Left" {
			code = "105"
		}
		args := []string{"key"}
		for i := 0; i < n; i++ {
			args = append(args, code+":1", code+":0")
		}
		return l.run(args...)
	}
	return ErrNotAvailable
}

func (l *linuxInjector) run(args ...string) error {
	if l.tool == "" {
		return ErrNotAvailable
	}
	out, err := exec.Command(l.tool, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", l.tool, err, string(out))
	}
	return nil
}
