package clipboard

import (
	"errors"
	"testing"
)

func TestMemoryEmptyReads(t *testing.T) {
	m := NewMemory()

	_, err := m.ReadText()
	if !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText from empty clipboard, got %v", err)
	}
}

func TestMemoryWriteTextRoundTrip(t *testing.T) {
	m := NewMemory()

	if err := m.WriteText("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := m.ReadText()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "hello" {
		t.Errorf("read %q, want %q", got, "hello")
	}
}

func TestMemoryWriteReplacesContent(t *testing.T) {
	m := NewMemory()
	m.SetText("before")

	err := m.Write(Payload{
		Text: "after",
		HTML: "<b>after</b>",
		Items: []Item{
			{Kind: ItemURL, URI: "https://example.com"},
		},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	cur := m.Current()
	if cur.Text != "after" || cur.HTML != "<b>after</b>" || len(cur.Items) != 1 {
		t.Errorf("unexpected payload after write: %+v", cur)
	}
}

func TestMemoryRecordsWrites(t *testing.T) {
	m := NewMemory()
	m.SetText("seeded") // seeding is not a write

	if err := m.WriteText("one"); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteText("two"); err != nil {
		t.Fatal(err)
	}

	writes := m.Writes()
	if len(writes) != 2 {
		t.Fatalf("expected 2 recorded writes, got %d", len(writes))
	}
	if writes[0].Text != "one" || writes[1].Text != "two" {
		t.Errorf("writes out of order: %+v", writes)
	}
}

func TestMemoryInjectedErrors(t *testing.T) {
	m := NewMemory()
	m.ReadErr = errors.New("read broken")
	m.WriteErr = errors.New("write broken")

	if _, err := m.ReadText(); err == nil {
		t.Error("expected injected read error")
	}
	if err := m.WriteText("x"); err == nil {
		t.Error("expected injected write error")
	}
	if len(m.Writes()) != 0 {
		t.Error("failed write must not be recorded")
	}
}

func TestMemoryClear(t *testing.T) {
	m := NewMemory()
	if err := m.WriteText("x"); err != nil {
		t.Fatal(err)
	}
	m.Clear()

	if _, err := m.ReadText(); !errors.Is(err, ErrNoText) {
		t.Errorf("expected ErrNoText after Clear, got %v", err)
	}
	if len(m.Writes()) != 0 {
		t.Error("Clear should drop recorded writes")
	}
}
