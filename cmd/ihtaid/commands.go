package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/ihtai/internal/config"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region commands
var (
	configPath string

	maxPatterns      int
	scoreTimesteps   string
	windowSize       int
	rubberBanding    bool
	rbTargetScore    float64
	rbDecay          float64
	httpAddr         string
	grpcAddr         string
	dbPath           string
	storeKind        string
	cacheKind        string
	logLevel         string
	minUpdatesPerMin float64

	rootCmd = &cobra.Command{
		Use:          "ihtaid",
		Short:        "Adaptive state-space quantizer and value store for online agents",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the learning API over HTTP and gRPC",
		RunE:  runServe,
	}

	cleanDBCmd = &cobra.Command{
		Use:   "clean-db",
		Short: "Delete every cell, action row and journal entry from the store",
		RunE:  runCleanDB,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "", "store backend: memory or sqlite")

	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.IntVar(&maxPatterns, "max-patterns", 0, "maximum number of cells splits may create")
	f.StringVar(&scoreTimesteps, "score-timesteps", "", "comma-separated reward horizons, e.g. 30,60")
	f.IntVar(&windowSize, "sliding-window-size", 0, "sliding window capacity")
	f.BoolVar(&rubberBanding, "rubber-banding", false, "pull scores above the target back toward it")
	f.Float64Var(&rbTargetScore, "rubber-banding-target-score", 0, "rubber banding target score")
	f.Float64Var(&rbDecay, "rubber-banding-decay", 0, "rubber banding decay in [0, 1]")
	f.Float64Var(&minUpdatesPerMin, "split-min-updates-per-minute", 0, "access rate a cell must exceed to split")
	f.StringVar(&httpAddr, "http-addr", "", "HTTP listen address; empty keeps the config value")
	f.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address; empty keeps the config value")
	f.StringVar(&cacheKind, "cache", "", "nearest-cell cache: none, memory, badger or memcached")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(cleanDBCmd)
}

// #endregion commands

// #region config
// loadConfig reads the config file and environment, then applies flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("db") {
		cfg.Store.Path = dbPath
	}
	if changed("store") {
		cfg.Store.Kind = storeKind
	}
	if changed("max-patterns") {
		cfg.MaxPatterns = maxPatterns
	}
	if changed("score-timesteps") {
		ts, err := config.ParseTimesteps(scoreTimesteps)
		if err != nil {
			return config.Config{}, err
		}
		cfg.SlidingWindow.ScoreTimesteps = ts
	}
	if changed("sliding-window-size") {
		cfg.SlidingWindow.Size = windowSize
	}
	if changed("rubber-banding") {
		cfg.RubberBanding.Enabled = rubberBanding
	}
	if changed("rubber-banding-target-score") {
		cfg.RubberBanding.TargetScore = rbTargetScore
	}
	if changed("rubber-banding-decay") {
		cfg.RubberBanding.Decay = rbDecay
	}
	if changed("split-min-updates-per-minute") {
		cfg.SplitPolicy.MinUpdatesPerMinute = minUpdatesPerMin
	}
	if changed("http-addr") {
		cfg.HTTP.Addr = httpAddr
	}
	if changed("grpc-addr") {
		cfg.GRPC.Addr = grpcAddr
	}
	if changed("cache") {
		cfg.Cache.Kind = cacheKind
	}
	if changed("log-level") {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// #endregion config

// #region clean-db
func runCleanDB(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(st)

	if err := st.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "DB CLEARED: %s\n", cfg.Store.Path)
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	st, err := store.NewStore(cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		_ = store.CloseIfSupported(st)
		return nil, fmt.Errorf("init store: %w", err)
	}
	return st, nil
}

// #endregion clean-db
