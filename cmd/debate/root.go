package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallnest/debategraph/config"
	"github.com/smallnest/debategraph/debate"
	"github.com/smallnest/debategraph/graph"
	"github.com/smallnest/debategraph/llm"
	"github.com/smallnest/debategraph/log"
	"github.com/smallnest/debategraph/metrics"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configFile string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "debate",
		Short: "Run resumable LLM debates",
		Long: `debate runs a two-sided debate on a topic: stances, opening arguments,
rebuttals, a verdict and a markdown summary. Every completed stage is
checkpointed, so an interrupted debate resumes where it stopped.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "config file (YAML)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error, none")

	cmd.AddCommand(
		newRunCmd(flags),
		newSessionsCmd(flags),
		newShowCmd(flags),
		newGraphCmd(flags),
		newServeCmd(flags),
	)
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// app is the wiring shared by the subcommands.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	engine   *debate.Engine
	metrics  *metrics.Collector
	registry *prometheus.Registry
	close    func()
}

// newApp opens the store and builds the debate engine.
func newApp(ctx context.Context, f *rootFlags) (*app, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	log.SetDefaultLogger(logger)

	gen, err := llm.New(cfg.LLMOptions())
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("debate", registry)

	st, closeStore, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	compileOpts := []graph.Option{
		graph.WithLogger(logger),
		graph.WithListener(collector),
		graph.WithStageTimeout(cfg.Retry.StageTimeout),
	}
	if policy := cfg.RetryPolicy(); policy != nil {
		compileOpts = append(compileOpts, graph.WithRetryPolicy(policy))
	}
	e, err := debate.NewEngine(collector.InstrumentGenerator(gen), st, cfg.DebateOptions(), compileOpts...)
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		engine:   e,
		metrics:  collector,
		registry: registry,
		close:    closeStore,
	}, nil
}
