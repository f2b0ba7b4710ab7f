package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/koustreak/pgshape/internal/server"
	"github.com/spf13/cobra"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve table schemas, row validation and row writes over HTTP until
interrupted. Rows are written to the configured sink.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	sk, err := a.openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sk.Close()

	srv := server.New(a.models, sk, cfg.Server,
		server.WithLogger(log),
		server.WithHealthCheck("catalog", func(ctx context.Context) error { return a.db.Ping(ctx) }),
	)
	return srv.ListenAndServe(ctx)
}
