package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/fidex/internal/config"
	"github.com/hazyhaar/fidex/internal/store"
	"github.com/hazyhaar/fidex/report"
	"github.com/hazyhaar/fidex/telemetry"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs over HTTP and MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Output.Listen = listen
			}
			return serve(cmd.Context(), root, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides output.listen)")
	return cmd
}

func serve(ctx context.Context, root *rootOptions, cfg *config.Config) error {
	log := root.logger
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return err
	}
	defer shutdown(context.WithoutCancel(ctx))

	db, err := store.Open(cfg.Output.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := report.New(db, log)
	srv := &http.Server{
		Addr:              cfg.Output.Listen,
		Handler:           svc.Handler(report.MCPHandler(svc.MCPServer(version))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("fidex: serving", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
