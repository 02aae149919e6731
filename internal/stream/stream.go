// Package stream folds the line-delimited JSON a backend CLI emits into the
// pieces an invocation needs: the session identifier, the result text, and
// terminal/error records.
package stream

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Collector consumes one attempt's output lines. It is not safe for
// concurrent use; each attempt gets a fresh collector.
type Collector struct {
	sessionID      string
	resultText     string
	assistantParts []string
	errMessage     string
	hadError       bool
	terminal       bool
	decodeErrors   int
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Feed inspects one output line and reports whether the backend has emitted
// its terminal record.
func (c *Collector) Feed(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return c.terminal
	}
	if !gjson.Valid(trimmed) {
		c.decodeErrors++
		return c.terminal
	}

	record := gjson.Parse(trimmed)
	switch record.Get("type").String() {
	case "system":
		if record.Get("subtype").String() == "init" {
			if id := record.Get("session_id").String(); id != "" {
				c.sessionID = id
			}
		}
	case "assistant":
		c.collectAssistantText(record)
	case "result":
		c.terminal = true
		if value := record.Get("result"); value.Exists() {
			c.resultText = value.String()
		}
		if c.sessionID == "" {
			c.sessionID = record.Get("session_id").String()
		}
		if record.Get("is_error").Bool() {
			c.hadError = true
			c.errMessage = firstNonEmpty(
				record.Get("result").String(),
				record.Get("error").String(),
				"backend reported an error result",
			)
		}
	case "error":
		c.terminal = true
		c.hadError = true
		c.errMessage = firstNonEmpty(
			record.Get("error.message").String(),
			record.Get("message").String(),
			trimmed,
		)
	}
	return c.terminal
}

// SessionID returns the backend-issued session identifier, if seen.
func (c *Collector) SessionID() string {
	return c.sessionID
}

// Result returns the final result text, falling back to the concatenated
// assistant messages when the terminal record carried none.
func (c *Collector) Result() string {
	if c.resultText != "" {
		return c.resultText
	}
	return strings.Join(c.assistantParts, "\n\n")
}

// Err reports a backend-signalled error record.
func (c *Collector) Err() (string, bool) {
	return c.errMessage, c.hadError
}

// DecodeErrors counts non-JSON lines the backend interleaved.
func (c *Collector) DecodeErrors() int {
	return c.decodeErrors
}

func (c *Collector) collectAssistantText(record gjson.Result) {
	content := record.Get("message.content")
	if !content.IsArray() {
		return
	}
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if text := block.Get("text").String(); text != "" {
				c.assistantParts = append(c.assistantParts, text)
			}
		}
		return true
	})
}

// RedactToolResults replaces tool_result payloads inside captured user
// records with a placeholder, keeping diagnostic tails small and free of
// bulk file contents. Non-matching lines pass through untouched.
func RedactToolResults(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !gjson.Valid(trimmed) {
		return line
	}
	record := gjson.Parse(trimmed)
	if record.Get("type").String() != "user" {
		return line
	}
	content := record.Get("message.content")
	if !content.IsArray() {
		return line
	}

	redacted := trimmed
	index := 0
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "tool_result" {
			path := fmt.Sprintf("message.content.%d.content", index)
			if updated, err := sjson.Set(redacted, path, "[truncated]"); err == nil {
				redacted = updated
			}
		}
		index++
		return true
	})
	return redacted
}

// RedactLines applies RedactToolResults to a captured tail.
func RedactLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = RedactToolResults(line)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
