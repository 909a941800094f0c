package claude

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
)

// TranscriptSeparator joins assistant text blocks in a plan-mode transcript.
const TranscriptSeparator = "\n\n---\n\n"

// parsedOutput is the decoded payload of a successful run.
type parsedOutput struct {
	Result     string
	SessionID  string
	Transcript string
}

// jsonResult is the single document printed by --output-format json.
type jsonResult struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	IsError   bool   `json:"is_error"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

// streamMessage is one line of --output-format stream-json.
type streamMessage struct {
	Type    string `json:"type"`    // "system", "assistant", "user", "result"
	Subtype string `json:"subtype"` // "init", "success", "error_max_turns", ...
	Message struct {
		Content []struct {
			Type string `json:"type"` // "text", "tool_use", "thinking", ...
			Text string `json:"text,omitempty"`
		} `json:"content"`
	} `json:"message"`
	IsError   bool   `json:"is_error,omitempty"`
	Result    string `json:"result,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// parseJSONOutput decodes single-document output. Malformed output is not an
// error: the raw text becomes the result and no session id is reported.
func parseJSONOutput(stdout string, log *slog.Logger) parsedOutput {
	raw := strings.TrimSpace(stdout)
	var doc jsonResult
	err := json.Unmarshal([]byte(raw), &doc)
	if err == nil && !strings.HasPrefix(raw, "{") {
		// null decodes into the zero value without error
		err = errors.New("output is not a JSON object")
	}
	if err != nil {
		log.Warn("failed to parse JSON output, returning raw output", "error", err, "output", truncateForLog(raw))
		return parsedOutput{Result: raw}
	}
	if doc.IsError {
		log.Warn("Claude reported an error result", "subtype", doc.Subtype)
	}
	return parsedOutput{Result: doc.Result, SessionID: doc.SessionID}
}

// parseStreamOutput decodes newline-delimited stream events. Lines that are
// not valid events are skipped. If several result events appear, the last one
// wins. Without any result event the transcript doubles as the result.
func parseStreamOutput(stdout string, log *slog.Logger) parsedOutput {
	var out parsedOutput
	var texts []string
	sawResult := false

	for _, line := range strings.Split(stdout, "\n") {
		msg, ok := parseStreamLine(line, log)
		if !ok {
			continue
		}

		switch msg.Type {
		case "assistant":
			for _, block := range msg.Message.Content {
				if block.Type == "text" && block.Text != "" {
					texts = append(texts, block.Text)
				}
			}
		case "result":
			if sawResult {
				log.Debug("multiple result events in stream, keeping the last")
			}
			sawResult = true
			out.Result = msg.Result
			out.SessionID = msg.SessionID
			if msg.IsError {
				log.Warn("Claude reported an error result", "subtype", msg.Subtype)
			}
		case "system":
			if msg.Subtype == "init" {
				log.Debug("session initialized", "claudeSessionID", msg.SessionID)
			}
		}
	}

	out.Transcript = strings.Join(texts, TranscriptSeparator)
	if !sawResult {
		log.Warn("stream ended without a result event", "textBlocks", len(texts))
		out.Result = out.Transcript
	}
	return out
}

// parseStreamLine decodes one stream line. Blank, non-JSON and untyped lines
// are reported as not ok.
func parseStreamLine(line string, log *slog.Logger) (streamMessage, bool) {
	var msg streamMessage

	line = strings.TrimSpace(line)
	if line == "" {
		return msg, false
	}

	// --verbose can interleave plain informational lines with the JSON
	if !strings.HasPrefix(line, "{") {
		log.Debug("skipping non-JSON line from Claude CLI", "line", truncateForLog(line))
		return msg, false
	}

	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		log.Warn("failed to parse stream message", "error", err, "line", truncateForLog(line))
		return msg, false
	}

	if msg.Type == "" {
		log.Debug("unrecognized JSON message type", "line", truncateForLog(line))
		return msg, false
	}

	return msg, true
}

func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
