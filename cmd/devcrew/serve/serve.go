package serve

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"devcrew/internal/app"
	"devcrew/internal/gateway"

	"github.com/spf13/cobra"
)

var addr string

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := app.Setup(cmd.Flag("config").Value.String())
		if err != nil {
			return err
		}
		if addr != "" {
			cfg.Gateway.Addr = addr
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

		slog.Info("starting gateway", "addr", cfg.Gateway.Addr, "process", a.Crew.Process(), "model", cfg.Agent().Model)
		return gateway.NewServer(a.Crew, slog.Default()).ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	Cmd.Flags().StringVarP(&addr, "addr", "a", "", "override gateway listen address")
}
