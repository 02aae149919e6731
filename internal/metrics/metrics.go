// Package metrics captures per-invocation timing and size counters and can
// emit them as line-delimited JSON on a diagnostic stream. This is
// observability, not part of the response contract.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is the JSONL schema for one finished invocation.
type Record struct {
	RunID        string `json:"run_id,omitempty"`
	TSStart      string `json:"ts_start"`
	TSEnd        string `json:"ts_end,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
	Backend      string `json:"backend"`
	Sandbox      string `json:"sandbox,omitempty"`
	Success      bool   `json:"success"`
	ErrorKind    string `json:"error_kind,omitempty"`
	Retries      int    `json:"retries"`
	ExitCode     *int   `json:"exit_code,omitempty"`
	PromptChars  int    `json:"prompt_chars"`
	PromptLines  int    `json:"prompt_lines"`
	ResultChars  int    `json:"result_chars"`
	ResultLines  int    `json:"result_lines"`
	RawLines     int    `json:"raw_output_lines"`
	DecodeErrors int    `json:"json_decode_errors,omitempty"`
}

// Outcome carries the values known only when an invocation finishes.
type Outcome struct {
	Success      bool
	ErrorKind    string
	Result       string
	ExitCode     *int
	Retries      int
	RawLines     int
	DecodeErrors int
}

// Collector accumulates one invocation's counters. Not safe for concurrent
// use; each invocation owns its collector.
type Collector struct {
	record   Record
	started  time.Time
	finished bool
	now      func() time.Time
}

// NewCollector starts the clock for one invocation.
func NewCollector(runID, backendID, sandbox, prompt string) *Collector {
	return newCollector(runID, backendID, sandbox, prompt, time.Now)
}

func newCollector(runID, backendID, sandbox, prompt string, now func() time.Time) *Collector {
	started := now()
	return &Collector{
		record: Record{
			RunID:       runID,
			TSStart:     started.UTC().Format(time.RFC3339),
			Backend:     backendID,
			Sandbox:     sandbox,
			PromptChars: len(prompt),
			PromptLines: countLines(prompt),
		},
		started: started,
		now:     now,
	}
}

// Finish stamps the end time and folds in the invocation outcome.
func (c *Collector) Finish(outcome Outcome) {
	if c == nil || c.finished {
		return
	}
	c.finished = true
	ended := c.now()
	c.record.TSEnd = ended.UTC().Format(time.RFC3339)
	c.record.DurationMS = ended.Sub(c.started).Milliseconds()
	c.record.Success = outcome.Success
	c.record.ErrorKind = outcome.ErrorKind
	c.record.Retries = outcome.Retries
	c.record.ExitCode = outcome.ExitCode
	c.record.ResultChars = len(outcome.Result)
	c.record.ResultLines = countLines(outcome.Result)
	c.record.RawLines = outcome.RawLines
	c.record.DecodeErrors = outcome.DecodeErrors
}

// Record returns the collected values.
func (c *Collector) Record() Record {
	if c == nil {
		return Record{}
	}
	return c.record
}

// DurationHuman formats the elapsed time as "XmYs" for response payloads.
func (c *Collector) DurationHuman() string {
	if c == nil {
		return "0m0s"
	}
	total := c.record.DurationMS / 1000
	return fmt.Sprintf("%dm%ds", total/60, total%60)
}

// Emit writes the record as one JSON line. Emission failures are returned,
// never allowed to affect the invocation result.
func (c *Collector) Emit(w io.Writer) error {
	if c == nil || w == nil {
		return nil
	}
	payload, err := json.Marshal(c.record)
	if err != nil {
		return fmt.Errorf("marshal metrics record: %w", err)
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write metrics record: %w", err)
	}
	return nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}
