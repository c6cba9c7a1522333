package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agencyos/internal/config"
	"agencyos/internal/server"
	"agencyos/internal/snapshot"
)

func newRunCmd(getCfg func() *config.Config, getLogger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the control loop and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := getCfg(), getLogger()

			var srv *server.Server
			a, err := buildApp(cfg, logger, func(doc *snapshot.Document) {
				if srv != nil {
					srv.InvalidateCache(doc)
				}
			})
			if err != nil {
				return err
			}
			defer a.close()

			srv = server.New(server.Options{
				Addr:              cfg.API.Addr,
				CORSOrigins:       cfg.API.CORSOrigins,
				IntelligenceToken: cfg.API.IntelligenceToken,
				CacheTTL:          cfg.API.CacheTTLDuration(),
				Version:           version,
				Store:             a.store,
				Queue:             a.queue,
				Writer:            a.writer,
				Logger:            logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := a.loop.Run(gctx)
				if gctx.Err() != nil {
					return nil
				}
				return err
			})
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				// Loop stops via context; drain the server second.
				return srv.Stop(context.Background())
			})

			logger.Info("agencyos running",
				zap.String("addr", cfg.API.Addr),
				zap.String("db", cfg.Database.Path))
			return g.Wait()
		},
	}
}
