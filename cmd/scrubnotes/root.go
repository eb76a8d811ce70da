package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scrubnotes/internal/blob"
	"scrubnotes/internal/config"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/logging"
	"scrubnotes/internal/media"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/records"
	"scrubnotes/internal/session"
	"scrubnotes/internal/table"
)

// globals shared by the subcommands, filled in PersistentPreRunE.
type globals struct {
	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "scrubnotes",
		Short:        "Surgeon preference cards for operating-room staff",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if g.verbose {
				cfg.Logging.Level = "debug"
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
			if err != nil {
				return err
			}
			g.cfg, g.log = cfg, log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.log != nil {
				_ = g.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "scrubnotes.yaml", "path to the YAML config file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(g), newMigrateCmd(g), newScrubCmd(g))
	return root
}

// app holds the wired collaborators of one process.
type app struct {
	store    table.Store
	blobs    blob.Store
	registry *prometheus.Registry
	recorder *metrics.PrometheusRecorder
	identity *identity.Service
	guard    *session.Guard
	loader   *records.Loader
	gateway  *records.Gateway
	uploader *media.Uploader
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	store, err := table.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		_ = store.Close()
		return nil, err
	}
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ids := identity.NewService(store,
		identity.WithLogger(log.Named("identity")),
		identity.WithMetrics(rec),
		identity.WithBaseURL(cfg.Server.BaseURL),
		identity.WithMailer(identity.NewMailer(cfg.Mail, log.Named("mail"))),
	)
	guard := session.NewGuard(ids)
	loader := records.NewLoader(store, rec)
	gateway := records.NewGateway(store, guard, log.Named("records"), rec)
	uploader := media.NewUploader(media.Config{
		Blobs:    blobs,
		Loader:   loader,
		Gateway:  gateway,
		Users:    guard,
		Log:      log.Named("media"),
		Metrics:  rec,
		MaxBytes: cfg.Uploads.MaxBytes,
	})

	log.Info("storage ready",
		zap.String("table_driver", string(store.Driver())),
		zap.String("blob_driver", string(blobs.Driver())),
	)
	return &app{
		store:    store,
		blobs:    blobs,
		registry: reg,
		recorder: rec,
		identity: ids,
		guard:    guard,
		loader:   loader,
		gateway:  gateway,
		uploader: uploader,
	}, nil
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return errors.New("app not initialised")
	}
	return a.store.Close()
}
