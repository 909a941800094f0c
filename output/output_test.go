package output

import (
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 678_000_000, time.UTC)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKind Kind
		want     string
	}{
		{"short", "hello", KindMessage, "hello"},
		{"trimmed", "  \n hello \n\n", KindMessage, "hello"},
		{"empty", "", KindMessage, NoOutput},
		{"whitespace only", " \t\n ", KindMessage, NoOutput},
		{"exactly at limit", strings.Repeat("a", SafeMessageLimit), KindMessage, strings.Repeat("a", SafeMessageLimit)},
		{"one over limit", strings.Repeat("a", SafeMessageLimit+1), KindFile, strings.Repeat("a", SafeMessageLimit+1)},
		{"multibyte counted as characters", strings.Repeat("é", SafeMessageLimit), KindMessage, strings.Repeat("é", SafeMessageLimit)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.input, fixedNow)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if got.Content != tt.want {
				t.Errorf("Content = %q (len %d), want len %d", truncateForError(got.Content), len(got.Content), len(tt.want))
			}
			if tt.wantKind == KindMessage && got.FileName != "" {
				t.Errorf("message reply has FileName %q", got.FileName)
			}
		})
	}
}

func TestFormat_FileKeepsFullContent(t *testing.T) {
	long := "  " + strings.Repeat("line\n", 1000) + "  "
	got := Format(long, fixedNow)

	if got.Kind != KindFile {
		t.Fatalf("Kind = %v, want file", got.Kind)
	}
	if got.Content != strings.TrimSpace(long) {
		t.Error("file content should be the full trimmed text")
	}
	if got.FileName != "claude-response-2025-01-02T03-04-05-678Z.txt" {
		t.Errorf("FileName = %q", got.FileName)
	}
}

func TestFileName(t *testing.T) {
	local := time.FixedZone("JST", 9*60*60)
	name := FileName(fixedNow.In(local))

	if name != "claude-response-2025-01-02T03-04-05-678Z.txt" {
		t.Errorf("FileName = %q, want UTC timestamp", name)
	}
	if strings.ContainsAny(name, ":") || strings.Count(name, ".") != 1 {
		t.Errorf("FileName %q should only contain the extension dot", name)
	}
}

func TestCodeBlock(t *testing.T) {
	tests := []struct {
		code, lang, want string
	}{
		{"x := 1", "go", "```go\nx := 1\n```"},
		{"plain", "", "```\nplain\n```"},
	}
	for _, tt := range tests {
		if got := CodeBlock(tt.code, tt.lang); got != tt.want {
			t.Errorf("CodeBlock(%q, %q) = %q, want %q", tt.code, tt.lang, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   string
	}{
		{"fits", "short", 10, "short"},
		{"exact", "12345", 5, "12345"},
		{"cut", "1234567890", 8, "12345..."},
		{"multibyte", "ああああああ", 5, "ああ..."},
		{"tiny limit", "abcdef", 2, "ab"},
		{"zero limit", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.text, tt.maxLen); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.want)
			}
		})
	}
}

func truncateForError(s string) string {
	return Truncate(s, 40)
}
