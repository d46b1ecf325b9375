//go:build darwin

package clipboard

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// darwinPort uses pbpaste/pbcopy for text and osascript for typed
// payloads. Shelling out avoids a cgo dependency on AppKit; NSPasteboard
// access would otherwise have to be marshalled onto the main thread.
type darwinPort struct{}

func newPlatformPort() Port {
	return &darwinPort{}
}

func (d *darwinPort) ReadText() (string, error) {
	out, err := exec.Command("pbpaste").Output()
	if err != nil {
		return "", fmt.Errorf("clipboard read: %w", err)
	}
	return string(out), nil
}

func (d *darwinPort) WriteText(text string) error {
	cmd := exec.Command("pbcopy")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}

func (d *darwinPort) Write(p Payload) error {
	if p.HTML != "" {
		if err := d.writeHTML(p.HTML); err == nil {
			return nil
		}
		return d.WriteText(p.Text)
	}
	if len(p.Items) == 1 && p.Items[0].Kind == ItemImage {
		if err := d.writeImage(p.Items[0].Data); err == nil {
			return nil
		}
	}
	if files := filePaths(p.Items); len(files) > 0 {
		if err := d.writeFiles(files); err == nil {
			return nil
		}
	}
	return d.WriteText(p.Text)
}

// writeHTML sets an HTML representation via osascript so applications
// that accept rich text paste the rendered form.
func (d *darwinPort) writeHTML(html string) error {
	script := fmt.Sprintf(`set the clipboard to {«class HTML»:«data HTML%x»}`, []byte(html))
	return exec.Command("osascript", "-e", script).Run()
}

// writeImage sets PNG bytes as the clipboard image.
func (d *darwinPort) writeImage(data []byte) error {
	tmp, err := os.CreateTemp("", "snipd-clip-*.png")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()
	script := fmt.Sprintf(`set the clipboard to (read (POSIX file %q) as «class PNGf»)`, tmp.Name())
	return exec.Command("osascript", "-e", script).Run()
}

// writeFiles places file references on the pasteboard so Finder-style
// paste targets receive the files themselves.
func (d *darwinPort) writeFiles(paths []string) error {
	var b bytes.Buffer
	b.WriteString("set the clipboard to {")
	for i, p := range paths {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "POSIX file %q", p)
	}
	b.WriteString("}")
	return exec.Command("osascript", "-e", b.String()).Run()
}

func filePaths(items []Item) []string {
	var out []string
	for _, it := range items {
		if it.Kind != ItemFile {
			continue
		}
		out = append(out, strings.TrimPrefix(it.URI, "file://"))
	}
	return out
}
