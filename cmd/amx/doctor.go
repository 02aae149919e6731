package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentmux/amx/internal/backend"
	"github.com/agentmux/amx/internal/config"
)

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report backend executable and credential readiness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			availability := backend.DetectAvailability()
			fmt.Fprint(cmd.OutOrStdout(), doctorReport(availability, cfg))
			return availability.Validate()
		},
	}
}

func doctorReport(availability backend.Availability, cfg *config.Config) string {
	var b strings.Builder
	b.WriteString("backend readiness:\n")
	for _, id := range backend.IDs() {
		desc, _ := backend.Lookup(id)
		status := "missing executable"
		if availability[id] {
			status = "ok"
		}

		creds := cfg.Backend(id)
		var notes []string
		if desc.RequiresCredentials {
			if strings.TrimSpace(creds.APIToken) == "" {
				notes = append(notes, "api_token not configured")
			}
			if strings.TrimSpace(creds.BaseURL) == "" {
				notes = append(notes, "base_url not configured")
			}
		}
		if creds.Model != "" {
			notes = append(notes, "model "+creds.Model)
		}

		b.WriteString(fmt.Sprintf("  %-8s %s", id, status))
		if len(notes) > 0 {
			b.WriteString(" (" + strings.Join(notes, "; ") + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List supported backend identifiers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, id := range backend.IDs() {
				desc, _ := backend.Lookup(id)
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s sandbox=%s retries=%d\n",
					id, desc.DefaultSandbox, desc.DefaultMaxRetries)
			}
			return nil
		},
	}
}
