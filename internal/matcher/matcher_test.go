package matcher

import (
	"reflect"
	"testing"

	"snipd/internal/snippet"
)

func testIndex(commands ...string) *Index {
	snips := make([]snippet.Snippet, len(commands))
	for i, c := range commands {
		snips[i] = snippet.Snippet{ID: c, Command: c, Content: "body"}
	}
	return BuildIndex(snips)
}

// feed types s one rune at a time and collects every match.
func feed(m *Matcher, s string) []Match {
	var out []Match
	for _, r := range s {
		if match, ok := m.OnChar(r); ok {
			out = append(out, match)
		}
	}
	return out
}

func TestImmediateMatch(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/addr", "/sig"))

	got := feed(m, "hello /addr")
	want := []Match{{Command: "/addr", Consumed: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
	if m.BufferLen() != 0 {
		t.Fatalf("buffer not cleared after match, len = %d", m.BufferLen())
	}
}

func TestEachCommandMatchesOnce(t *testing.T) {
	commands := []string{"/addr", "/sig", "/date", "xx"}
	for _, c := range commands {
		m := New(Config{})
		m.SetIndex(testIndex(commands...))
		got := feed(m, c)
		if len(got) != 1 || got[0].Command != c {
			t.Errorf("typing %q: matches = %+v, want one match for %q", c, got, c)
		}
	}
}

func TestLongerCommandWinsAcrossKeystrokes(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/s", "/sig"))

	got := feed(m, "/sig")
	want := []Match{{Command: "/sig", Consumed: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestWithheldMatchResolvesOnDivergence(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/s", "/sig"))

	// /s completes but /sig is still reachable, so the match is held
	// until the space rules /sig out. The space is consumed on screen
	// and handed back as the tail.
	got := feed(m, "/s ")
	want := []Match{{Command: "/s", Consumed: 3, Tail: " "}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestWithheldMatchSurvivesSharedMiddle(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/s", "/sig"))

	// "/si" stays on the path to /sig; diverging afterwards resolves
	// the held /s with both extra runes in the tail.
	got := feed(m, "/six")
	want := []Match{{Command: "/s", Consumed: 4, Tail: "ix"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestLongestWinsWithinOneKeystroke(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("sig", "ig"))

	got := feed(m, "xsig")
	want := []Match{{Command: "sig", Consumed: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestBackspaceRepair(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/addr"))

	if got := feed(m, "/addq"); len(got) != 0 {
		t.Fatalf("unexpected matches %+v", got)
	}
	m.OnBackspace()
	got := feed(m, "r")
	want := []Match{{Command: "/addr", Consumed: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches after repair = %+v, want %+v", got, want)
	}
}

func TestBackspaceIntoCommandAbandonsHold(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/s", "/sig"))

	feed(m, "/s") // held
	m.OnBackspace()
	got := feed(m, "sx")
	want := []Match{{Command: "/s", Consumed: 3, Tail: "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestResetClearsBufferAndHold(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/addr", "/s", "/sig"))

	feed(m, "/ad")
	m.Reset()
	if got := feed(m, "dr"); len(got) != 0 {
		t.Fatalf("match across reset: %+v", got)
	}

	feed(m, "/s") // held
	m.Reset()
	if got := feed(m, " "); len(got) != 0 {
		t.Fatalf("held match leaked across reset: %+v", got)
	}
}

func TestBufferBounded(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/sig"))

	long := make([]rune, 0, 600)
	for i := 0; i < 500; i++ {
		long = append(long, 'a')
	}
	feed(m, string(long))
	if m.BufferLen() > m.Index().MaxCommandLen()+1 {
		t.Fatalf("buffer len = %d, want <= %d", m.BufferLen(), m.Index().MaxCommandLen()+1)
	}

	got := feed(m, "/sig")
	want := []Match{{Command: "/sig", Consumed: 4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestWordBoundary(t *testing.T) {
	tests := []struct {
		name     string
		boundary bool
		typed    string
		matches  int
	}{
		{"off allows mid-word", false, "abcsig", 1},
		{"on blocks mid-word", true, "abcsig", 0},
		{"on allows after space", true, "abc sig", 1},
		{"on allows after punctuation", true, "abc,sig", 1},
		{"on allows at start", true, "sig", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(Config{WordBoundary: tt.boundary})
			m.SetIndex(testIndex("sig"))
			got := feed(m, tt.typed)
			if len(got) != tt.matches {
				t.Fatalf("typing %q: %d matches (%+v), want %d", tt.typed, len(got), got, tt.matches)
			}
		})
	}
}

func TestIndexSwapMidCommand(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/addr", "/sig"))

	feed(m, "/ad")
	m.SetIndex(testIndex("/addr")) // command survives reload
	got := feed(m, "dr")
	want := []Match{{Command: "/addr", Consumed: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}

	m.Reset()
	m.SetIndex(testIndex("/addr", "/sig"))
	feed(m, "/si")
	m.SetIndex(testIndex("/addr")) // /sig removed mid-typing
	if got := feed(m, "g"); len(got) != 0 {
		t.Fatalf("removed command still matched: %+v", got)
	}
}

func TestUnicodeCommandCountsRunes(t *testing.T) {
	m := New(Config{})
	m.SetIndex(testIndex("/日付"))

	got := feed(m, "メモ/日付")
	want := []Match{{Command: "/日付", Consumed: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("matches = %+v, want %+v", got, want)
	}
}

func TestBuildIndexDuplicatesKeepFirst(t *testing.T) {
	ix := BuildIndex([]snippet.Snippet{
		{ID: "a", Command: "/x", Content: "first"},
		{ID: "b", Command: "/x", Content: "second"},
	})
	s, ok := ix.Lookup("/x")
	if !ok || s.Content != "first" {
		t.Fatalf("Lookup(/x) = %+v, %v; want first definition", s, ok)
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
}

func TestIndexAccessors(t *testing.T) {
	ix := testIndex("/sig", "/addr", "xx")
	if got := ix.MaxCommandLen(); got != 5 {
		t.Fatalf("MaxCommandLen = %d, want 5", got)
	}
	want := []string{"/addr", "/sig", "xx"}
	if got := ix.Commands(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Commands = %v, want %v", got, want)
	}
	if _, ok := ix.Lookup("/nope"); ok {
		t.Fatal("Lookup(/nope) found a snippet")
	}
}

func TestEmptyIndexNeverMatches(t *testing.T) {
	m := New(Config{})
	if got := feed(m, "anything /sig here"); len(got) != 0 {
		t.Fatalf("matches on empty index: %+v", got)
	}
}
