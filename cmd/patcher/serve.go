package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/api"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/service"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control API for a launcher shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd, a)
		},
	}
}

func serve(cmd *cobra.Command, a *app) error {
	logger := a.logger.Named("server")
	logger.Info("running server", zap.Int("pid", os.Getpid()))
	gin.SetMode(a.cfg.GinMode)

	store, err := storage.NewBoltRunStore(filepath.Join(a.cfg.StateDir, "runs.db"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("cant close store", zap.Error(err))
		}
	}()

	svc, err := service.NewRunService(&service.Options{
		Store:               store,
		Runner:              a.engine,
		IDGen:               service.NewRandomIDGenerator("run-"),
		Logger:              a.logger.Named("service"),
		BootstrapTransferID: a.cfg.BootstrapTransferID,
		BootstrapSaveDir:    a.cfg.BootstrapSaveDir,
	})
	if err != nil {
		return err
	}

	srv, err := api.NewServer(&api.ServerOptions{
		RunService: svc,
		Metrics:    a.metrics,
		Logger:     a.logger.Named("api"),
		Addr:       a.cfg.ServerAddr,
	})
	if err != nil {
		svc.Close()
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", a.cfg.ServerAddr))
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	offCtx, offCanc := context.WithTimeout(context.Background(), shutdownTimeout)
	defer offCanc()
	if err := srv.Shutdown(offCtx); err != nil {
		logger.Error("cant shutdown server", zap.Error(err))
	}
	// a run in flight stops after its current file
	svc.Close()
	logger.Info("shutdown done")
	return serveErr
}
