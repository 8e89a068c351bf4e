package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Alwanly/conduit/internal/config"
	"github.com/Alwanly/conduit/internal/routes"
	"github.com/Alwanly/conduit/internal/server/management"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/tracing"
)

var routesFile string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the routes and the management API until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runRuntime,
}

func init() {
	runCmd.Flags().StringVarP(&routesFile, "routes", "r", "", "routes file, overrides routes.file from the config")
}

func runRuntime(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLoggerFromEnv("conduit")
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return err
	}
	if routesFile != "" {
		cfg.Routes.File = routesFile
	}

	log.Info("configuration loaded",
		logger.String("management_addr", cfg.Management.Addr),
		logger.String("http_addr", cfg.HTTP.Addr),
		logger.String("routes_file", cfg.Routes.File),
		logger.String("sql_dialect", cfg.SQL.Dialect),
	)

	shutdownTracing := tracing.Setup(cfg.Tracing.ServiceName, log)

	runtime, err := newRuntime(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to register components")
		return err
	}

	defs, err := routes.Load(cfg.Routes.File)
	if err != nil {
		log.WithError(err).Error("failed to load routes")
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if _, err := routes.Build(ctx, runtime, defs); err != nil {
		log.WithError(err).Error("failed to build routes")
		return err
	}
	if err := runtime.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start runtime")
		return err
	}
	log.Info("runtime started",
		logger.Int("routes", len(defs)),
		logger.Strings("components", runtime.Components()),
	)

	app := management.NewApp(cfg.Management, runtime, log)

	gErr, gCtx := errgroup.WithContext(ctx)

	gErr.Go(func() error {
		log.Info("management API is running", logger.String("address", cfg.Management.Addr))
		if err := app.Listen(cfg.Management.Addr); err != nil {
			cancel()
			return err
		}
		return nil
	})

	gErr.Go(func() error {
		<-gCtx.Done()

		stopCtx, stop := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer stop()

		var errs []error
		if err := app.ShutdownWithContext(stopCtx); err != nil {
			log.WithError(err).Error("failed to shutdown management API")
			errs = append(errs, err)
		}
		if err := runtime.Stop(stopCtx); err != nil {
			log.WithError(err).Error("failed to stop runtime")
			errs = append(errs, err)
		}
		if err := shutdownTracing(stopCtx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
		return errors.Join(errs...)
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		log.Info("listening for shutdown signals")
		select {
		case <-sigChan:
			log.Info("shutdown signal received")
		case <-gCtx.Done():
		}
		cancel()
	}()

	if err := gErr.Wait(); err != nil {
		log.WithError(err).Error("conduit encountered an error")
		return err
	}

	log.Info("conduit stopped gracefully")
	return nil
}
