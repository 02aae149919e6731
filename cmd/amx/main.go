package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmux/amx/internal/config"
	"github.com/agentmux/amx/internal/engine"
	"github.com/agentmux/amx/internal/events"
	"github.com/agentmux/amx/internal/logging"
	"github.com/agentmux/amx/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New()
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	eng, err := engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithEvents(newEventBus(logger)),
	)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	cmd := newRootCommand(cfg, eng, logger)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// newEventBus routes invocation lifecycle events into the runtime log.
func newEventBus(logger *logging.RuntimeLogger) *events.Bus {
	bus := events.New(events.WithLogger(logger.Logger))
	bus.SubscribeAll(func(event events.Event) {
		logger.Logger.Info("lifecycle event",
			"type", event.Type,
			"backend", event.Backend,
			"run_id", event.RunID,
			"session_id", event.SessionID,
			"detail", event.Detail,
		)
	})
	return bus
}

func newRootCommand(cfg *config.Config, eng *engine.Engine, logger *logging.RuntimeLogger) *cobra.Command {
	var trace bool
	var telemetryShutdown func()

	root := &cobra.Command{
		Use:           "amx",
		Short:         "Invoke AI coding backends as supervised one-shot operations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().BoolVar(&trace, "trace", false, "export OpenTelemetry spans for this run")

	root.AddCommand(
		newInvokeCommand(eng),
		newDoctorCommand(cfg),
		newBackendsCommand(),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		if trace {
			shutdown, err := telemetry.Init(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize telemetry: %w", err)
			}
			telemetryShutdown = shutdown
		}
		if logger != nil && logger.Logger != nil {
			logger.Logger.With("command", cmd.Name()).Debug("command invocation")
		}
		return nil
	}
	root.PersistentPostRun = func(*cobra.Command, []string) {
		if telemetryShutdown != nil {
			telemetryShutdown()
		}
	}

	return root
}
