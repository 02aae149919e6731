package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmux/amx/internal/engine"
)

// invoker is the engine surface the invoke command needs.
type invoker interface {
	Invoke(ctx context.Context, req engine.Request) engine.Outcome
}

var _ invoker = (*engine.Engine)(nil)

func newInvokeCommand(eng invoker) *cobra.Command {
	var (
		prompt        string
		workdir       string
		sessionID     string
		sandbox       string
		model         string
		idleTimeout   time.Duration
		maxDuration   time.Duration
		maxRetries    int
		logMetrics    bool
		returnMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "invoke <backend>",
		Short: "Run one prompt against a backend and print the JSON outcome",
		Long: "Runs one supervised backend invocation. The prompt comes from --prompt\n" +
			"or stdin; the outcome is printed to stdout as a single JSON document.\n" +
			"The exit status is 0 when the invocation succeeded and 1 otherwise.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolvePrompt(prompt, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if workdir == "" {
				workdir, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
			}

			req := engine.Request{
				Backend:       args[0],
				Prompt:        resolved,
				Workdir:       workdir,
				SessionID:     sessionID,
				Sandbox:       sandbox,
				Model:         model,
				IdleTimeout:   idleTimeout,
				MaxDuration:   maxDuration,
				ReturnMetrics: returnMetrics,
				LogMetrics:    logMetrics,
			}
			if maxRetries >= 0 {
				req.MaxRetries = &maxRetries
			}

			outcome := eng.Invoke(cmd.Context(), req)
			payload, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return fmt.Errorf("encode outcome: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))

			if !outcome.Success {
				// The outcome document carries the diagnostics; the error
				// only drives the exit status.
				return fmt.Errorf("invocation failed: %s", outcome.ErrorKind)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text; reads stdin when omitted")
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "working directory for the backend process; defaults to the current directory")
	cmd.Flags().StringVar(&sessionID, "session", "", "session identifier to continue")
	cmd.Flags().StringVar(&sandbox, "sandbox", "", "sandbox mode: read-only, workspace-write, or danger-full-access")
	cmd.Flags().StringVar(&model, "model", "", "model override for this invocation")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 0, "kill the backend after this much silence")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "total wall-clock cap per attempt")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retry budget override; -1 keeps the backend default")
	cmd.Flags().BoolVar(&logMetrics, "metrics", false, "emit a JSONL metrics record on stderr")
	cmd.Flags().BoolVar(&returnMetrics, "return-metrics", false, "embed the metrics record in the outcome")

	return cmd
}

func resolvePrompt(flagValue string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("prompt is required: pass --prompt or pipe it on stdin")
	}
	return string(data), nil
}
