package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/logging"
	"github.com/danielpatrickdp/ihtai/internal/rpc"
)

// #region main

func main() {
	addr := flag.String("addr", "localhost:3801", "ihtaid gRPC address")
	steps := flag.Int("steps", 1000, "number of cycles to run (0 = until interrupted)")
	perSecond := flag.Float64("rate", 20, "cycles per second (0 = unthrottled)")
	explore := flag.Float64("explore", 0.1, "probability of a random action")
	size := flag.Float64("size", 10, "side length of the plane")
	gridStep := flag.Float64("grid", 2.5, "spacing of the seeded cells")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	fresh := flag.Bool("fresh", false, "clear the server before seeding")
	logLevel := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	logger, closer, err := logging.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rpc.NewClient(*addr)
	if err != nil {
		logger.Error("connect failed", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	opts := runOptions{
		steps:    *steps,
		limit:    rate.Limit(*perSecond),
		explore:  *explore,
		size:     *size,
		gridStep: *gridStep,
		fresh:    *fresh,
		rng:      rand.New(rand.NewSource(*seed)),
	}
	if err := run(ctx, client, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulation failed", "error", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run

type runOptions struct {
	steps    int
	limit    rate.Limit
	explore  float64
	size     float64
	gridStep float64
	fresh    bool
	rng      *rand.Rand
}

func run(ctx context.Context, client *rpc.Client, opts runOptions, logger *slog.Logger) error {
	if opts.fresh {
		if err := client.Clear(ctx); err != nil {
			return err
		}
	}

	seeded, err := client.Initialize(ctx, seedGrid(opts.size, opts.gridStep), alphabet())
	switch {
	case err == nil:
		logger.Info("seeded index", "created", seeded.Created, "cells", seeded.Cells)
	case errors.Is(err, errs.ErrAlreadyInitialized):
		logger.Info("index already initialized, reusing it")
	default:
		return err
	}

	w := newWorld(opts.size, opts.rng)
	limit := opts.limit
	if limit <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)
	ax, ay := 0.0, 0.0
	var total float64
	for i := 1; opts.steps == 0 || i <= opts.steps; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		dist := w.distance()
		total += dist

		resp, err := client.Step(ctx, w.observe(ax, ay), "", dist)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if resp.Split != nil && resp.Split.New != "" {
			logger.Info("cell split", "original", resp.Split.Original, "new", resp.Split.New)
		}

		if opts.rng.Float64() < opts.explore {
			ax, ay = randomAction(opts.rng)
		} else if ax, ay, err = parseSignature(resp.Action.Signature); err != nil {
			logger.Warn("unusable action, exploring", "signature", resp.Action.Signature, "error", err)
			ax, ay = randomAction(opts.rng)
		}
		w.apply(ax, ay)

		logger.Debug("cycle",
			"cycle", resp.Cycle,
			"cell", resp.PatternString,
			"action", resp.Action.Signature,
			"expected", resp.Action.Score,
			"distance", dist,
		)
		if i%100 == 0 {
			logger.Info("progress", "cycle", i, "mean_distance", total/100)
			total = 0
		}
	}
	return nil
}

// #endregion run
