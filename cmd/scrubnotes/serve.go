package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrubnotes/internal/web"
)

const shutdownGrace = 10 * time.Second

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				g.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, g)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, g *globals) error {
	a, err := buildApp(ctx, g.cfg, g.log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv := web.New(web.Deps{
		Identity:       a.identity,
		Guard:          a.guard,
		Loader:         a.loader,
		Gateway:        a.gateway,
		Uploader:       a.uploader,
		Blobs:          a.blobs,
		Gatherer:       a.registry,
		Log:            g.log.Named("web"),
		RequestTimeout: g.cfg.GetRequestTimeout(),
		SecureCookies:  g.cfg.Server.SecureCookies,
		MaxUploadBytes: g.cfg.Uploads.MaxBytes,
	})
	hs := &http.Server{
		Addr:              g.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		g.log.Info("listening", zap.String("addr", hs.Addr), zap.String("base_url", g.cfg.Server.BaseURL))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	g.log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
