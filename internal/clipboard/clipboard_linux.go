//go:build linux

package clipboard

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// linuxPort shells out to the session's clipboard tool: wl-copy/wl-paste
// under Wayland, xclip or xsel under X11. Tool discovery happens once per
// process; there is no long-lived clipboard daemon to manage.
type linuxPort struct {
	wayland bool
}

func newPlatformPort() Port {
	return &linuxPort{wayland: os.Getenv("WAYLAND_DISPLAY") != ""}
}

func (l *linuxPort) ReadText() (string, error) {
	if l.wayland {
		if out, err := exec.Command("wl-paste", "--no-newline").Output(); err == nil {
			return string(out), nil
		}
	}
	if out, err := exec.Command("xclip", "-selection", "clipboard", "-o").Output(); err == nil {
		return string(out), nil
	}
	if out, err := exec.Command("xsel", "--clipboard", "--output").Output(); err == nil {
		return string(out), nil
	}
	if out, err := exec.Command("wl-paste", "--no-newline").Output(); err == nil {
		return string(out), nil
	}
	return "", ErrNoText
}

func (l *linuxPort) WriteText(text string) error {
	return l.writeTarget("text/plain;charset=utf-8", []byte(text))
}

func (l *linuxPort) Write(p Payload) error {
	// A single image is written in its native representation; everything
	// else goes through the representation most applications paste.
	if p.HTML != "" {
		if err := l.writeTarget("text/html", []byte(p.HTML)); err == nil {
			return nil
		}
		return l.WriteText(p.Text)
	}
	if len(p.Items) > 0 {
		if p.Items[0].Kind == ItemImage && len(p.Items) == 1 {
			return l.writeTarget("image/png", p.Items[0].Data)
		}
		if uris := uriList(p.Items); uris != "" {
			if err := l.writeTarget("text/uri-list", []byte(uris)); err == nil {
				return nil
			}
		}
	}
	return l.WriteText(p.Text)
}

// writeTarget pipes data into the first available clipboard tool with the
// given MIME target.
func (l *linuxPort) writeTarget(mime string, data []byte) error {
	type tool struct {
		name string
		args []string
	}
	tools := []tool{
		{"xclip", []string{"-selection", "clipboard", "-t", mime}},
		{"xsel", []string{"--clipboard", "--input"}},
	}
	wl := tool{"wl-copy", []string{"--type", mime}}
	if l.wayland {
		tools = append([]tool{wl}, tools...)
	} else {
		tools = append(tools, wl)
	}

	var lastErr error
	for _, t := range tools {
		// xsel is text-only; skip it for binary targets.
		if t.name == "xsel" && !strings.HasPrefix(mime, "text/plain") {
			continue
		}
		cmd := exec.Command(t.name, t.args...)
		cmd.Stdin = bytes.NewReader(data)
		if err := cmd.Run(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		return ErrNotAvailable
	}
	return fmt.Errorf("clipboard write (%s): %w", mime, lastErr)
}

// uriList renders file and URL items as a text/uri-list body.
func uriList(items []Item) string {
	var b strings.Builder
	for _, it := range items {
		switch it.Kind {
		case ItemFile:
			uri := it.URI
			if !strings.Contains(uri, "://") {
				uri = "file://" + uri
			}
			b.WriteString(uri)
			b.WriteString("\r\n")
		case ItemURL:
			b.WriteString(it.URI)
			b.WriteString("\r\n")
		}
	}
	return b.String()
}
