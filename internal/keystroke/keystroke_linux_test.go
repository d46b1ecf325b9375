//go:build linux

package keystroke

import "testing"

// drain pulls every buffered event off the channel.
func drain(ch <-chan Event) []Event {
	var evs []Event
	for {
		select {
		case ev := <-ch:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestChordSurvivesPartialModifierRelease(t *testing.T) {
	src := &LinuxSource{}
	ch := src.Events()
	var dec decoder

	// Ctrl+Alt held, then ctrl released while alt stays down.
	src.handleKey(&dec, keyLeftCtrl, keyPress)
	src.handleKey(&dec, keyLeftAlt, keyPress)
	src.handleKey(&dec, keyLeftCtrl, keyRelease)
	drain(ch)

	if !dec.chordHeld() {
		t.Fatal("chord cleared while alt is still held")
	}

	// The 't' under a held alt is a shortcut, not text.
	src.handleKey(&dec, 20, keyPress)
	evs := drain(ch)
	if len(evs) != 1 || evs[0].Kind != KindControl || evs[0].Key != "chord" {
		t.Fatalf("expected chord control event, got %+v", evs)
	}

	src.handleKey(&dec, keyLeftAlt, keyRelease)
	if dec.chordHeld() {
		t.Fatal("chord still held after all modifiers released")
	}

	// Plain text again once the chord is gone.
	src.handleKey(&dec, 20, keyPress)
	evs = drain(ch)
	if len(evs) != 1 || evs[0].Kind != KindChar || evs[0].Rune != 't' {
		t.Fatalf("expected char 't', got %+v", evs)
	}
}

func TestShiftTrackedPerKey(t *testing.T) {
	src := &LinuxSource{}
	ch := src.Events()
	var dec decoder

	src.handleKey(&dec, keyLeftShift, keyPress)
	src.handleKey(&dec, keyRightShift, keyPress)
	src.handleKey(&dec, keyLeftShift, keyRelease)
	src.handleKey(&dec, 30, keyPress) // 'a'

	evs := drain(ch)
	if len(evs) != 1 || evs[0].Rune != 'A' {
		t.Fatalf("expected 'A' with right shift still held, got %+v", evs)
	}

	src.handleKey(&dec, keyRightShift, keyRelease)
	src.handleKey(&dec, 30, keyPress)
	evs = drain(ch)
	if len(evs) != 1 || evs[0].Rune != 'a' {
		t.Fatalf("expected 'a' after both shifts released, got %+v", evs)
	}
}
