// Package output turns Claude output into chat replies.
package output

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SafeMessageLimit is the longest reply sent inline. Discord caps messages at
// 2000 characters; the margin leaves room for reply decoration.
const SafeMessageLimit = 1900

// NoOutput is sent when Claude produced nothing.
const NoOutput = "(no output)"

// Kind says how a Reply is delivered.
type Kind int

const (
	KindMessage Kind = iota
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "message"
}

// Reply is formatted output ready to send.
type Reply struct {
	Kind     Kind
	Content  string
	FileName string // Set only for KindFile
}

// Format trims text and decides whether it fits in a message. Longer text is
// returned as a file attachment named after now.
func Format(text string, now time.Time) Reply {
	trimmed := strings.TrimSpace(text)

	if utf8.RuneCountInString(trimmed) <= SafeMessageLimit {
		if trimmed == "" {
			trimmed = NoOutput
		}
		return Reply{Kind: KindMessage, Content: trimmed}
	}

	return Reply{
		Kind:     KindFile,
		Content:  trimmed,
		FileName: FileName(now),
	}
}

// FileName returns the attachment name for output produced at now, e.g.
// claude-response-2025-01-02T03-04-05-678Z.txt.
func FileName(now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return "claude-response-" + ts + ".txt"
}

// CodeBlock wraps code in a fenced block with an optional language tag.
func CodeBlock(code, lang string) string {
	return "```" + lang + "\n" + code + "\n```"
}

// Truncate shortens text to at most maxLen characters, ending with "..."
// when anything was cut.
func Truncate(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	if maxLen <= 3 {
		return string([]rune(text)[:max(maxLen, 0)])
	}
	return string([]rune(text)[:maxLen-3]) + "..."
}
