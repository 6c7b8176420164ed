package develop

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"devcrew/internal/agent"
	"devcrew/internal/app"

	"github.com/spf13/cobra"
)

var (
	process string
	events  bool
)

var Cmd = &cobra.Command{
	Use:   "develop <problem statement>",
	Short: "Run the crew once and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		statement := strings.TrimSpace(strings.Join(args, " "))
		if statement == "" {
			return fmt.Errorf("problem statement is required")
		}

		cfg, err := app.Setup(cmd.Flag("config").Value.String())
		if err != nil {
			return err
		}
		if process != "" {
			cfg.Crew.Process = process
		}
		if err := cfg.RequireCredentials(); err != nil {
			return err
		}

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				slog.Warn("trace shutdown failed", "error", err)
			}
		}()

		emit := agent.Discard
		if events {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			emit = func(ev agent.Event) { _ = enc.Encode(ev) }
		}

		out, err := a.Crew.Develop(ctx, statement, emit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	Cmd.Flags().StringVarP(&process, "process", "p", "", "crew process: hierarchical or sequential")
	Cmd.Flags().BoolVarP(&events, "events", "e", false, "stream crew events to stderr as JSON lines")
}
