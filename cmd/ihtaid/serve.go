package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/ihtai/internal/cache"
	"github.com/danielpatrickdp/ihtai/internal/httpapi"
	"github.com/danielpatrickdp/ihtai/internal/logging"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/rpc"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/window"
)

const shutdownTimeout = 10 * time.Second

// #region serve
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	clientLog, clientCloser, err := logging.NewLogger(cfg.ClientLog)
	if err != nil {
		return fmt.Errorf("client logger: %w", err)
	}
	defer clientCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(st)

	nearestCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.CloseIfSupported(nearestCache)

	ix := quantizer.New(st, quantizer.Options{
		Cache:         nearestCache,
		Logger:        logger,
		MaxCells:      cfg.MaxPatterns,
		SplitPolicy:   quantizer.NewSplitPolicy(cfg.SplitPolicy),
		RubberBanding: cfg.RubberBanding,
	})
	w, err := window.New(cfg.SlidingWindow.Size, cfg.SlidingWindow.ScoreTimesteps)
	if err != nil {
		return err
	}
	sess := session.New(ix, w, logger)

	logger.Info("ihtaid starting",
		"session", sess.ID(),
		"store", cfg.Store.Kind,
		"db", cfg.Store.Path,
		"cache", cfg.Cache.Kind,
		"http", cfg.HTTP.Addr,
		"grpc", cfg.GRPC.Addr,
		"max_patterns", cfg.MaxPatterns,
		"window", cfg.SlidingWindow.Size,
		"score_timesteps", cfg.SlidingWindow.ScoreTimesteps,
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.HTTP.Addr != "" {
		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           httpapi.New(sess, logger, clientLog).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPC.Addr, err)
		}
		srv := rpc.NewGRPCServer(rpc.NewServer(sess), logger)
		g.Go(func() error {
			logger.Info("grpc listening", "addr", cfg.GRPC.Addr)
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			srv.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	logger.Info("ihtaid stopped", "cycles", sess.Cycles(), "cells", ix.CellCount())
	return err
}

// #endregion serve
