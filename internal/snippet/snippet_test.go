package snippet

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Snippet
		wantErr error
	}{
		{
			name: "plain text ok",
			s:    Snippet{Command: "/sig", Content: "Regards,\nPat", Kind: KindText},
		},
		{
			name: "kind defaults to text",
			s:    Snippet{Command: "/sig", Content: "Regards"},
		},
		{
			name:    "empty command",
			s:       Snippet{Content: "x", Kind: KindText},
			wantErr: ErrEmptyCommand,
		},
		{
			name:    "whitespace in command",
			s:       Snippet{Command: "/my sig", Content: "x", Kind: KindText},
			wantErr: ErrCommandWhitespace,
		},
		{
			name:    "tab in command",
			s:       Snippet{Command: "/a\tb", Content: "x", Kind: KindText},
			wantErr: ErrCommandWhitespace,
		},
		{
			name:    "text without content",
			s:       Snippet{Command: "/empty", Kind: KindText},
			wantErr: ErrNoContent,
		},
		{
			name:    "image without items",
			s:       Snippet{Command: "/logo", Kind: KindImage},
			wantErr: ErrNoContent,
		},
		{
			name: "image with data ok",
			s: Snippet{
				Command:   "/logo",
				Kind:      KindImage,
				RichItems: []RichItem{{Kind: ItemImage, Data: []byte{0x89, 'P', 'N', 'G'}}},
			},
		},
		{
			name: "url item ok",
			s: Snippet{
				Command:   "/docs",
				Kind:      KindURL,
				RichItems: []RichItem{{Kind: ItemURL, URI: "https://example.com/docs"}},
			},
		},
		{
			name: "file item without uri",
			s: Snippet{
				Command:   "/report",
				Kind:      KindFile,
				RichItems: []RichItem{{Kind: ItemFile}},
			},
			wantErr: nil, // wrapped, checked below by non-nil
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if tt.name == "file item without uri" {
				if err == nil {
					t.Fatal("Validate() = nil, want error for file item without uri")
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	s := Snippet{Command: "/sig", Content: "Regards", Kind: KindText}
	if got := s.PlainText(); got != "Regards" {
		t.Errorf("PlainText() = %q, want %q", got, "Regards")
	}

	rich := Snippet{
		Command: "/links",
		Kind:    KindURL,
		RichItems: []RichItem{
			{Kind: ItemURL, URI: "https://a.example"},
			{Kind: ItemURL, URI: "https://b.example"},
		},
	}
	want := "https://a.example\nhttps://b.example"
	if got := rich.PlainText(); got != want {
		t.Errorf("PlainText() = %q, want %q", got, want)
	}
}

func TestIsRich(t *testing.T) {
	if (&Snippet{Kind: KindText}).IsRich() {
		t.Error("text kind reported rich")
	}
	for _, k := range []ContentKind{KindMarkdown, KindImage, KindFile, KindURL} {
		if !(&Snippet{Kind: k}).IsRich() {
			t.Errorf("kind %q not reported rich", k)
		}
	}
}
