// Command clusterworker is the composition root for the idea-clustering
// core: it wires Postgres-backed stores, the external RPC collaborators,
// the two clustering engines, the Clustering Coordinator, and the
// Dispatcher, then runs them until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/topictrends/cluster-core/internal/api"
	"github.com/topictrends/cluster-core/internal/clustering"
	"github.com/topictrends/cluster-core/internal/config"
	"github.com/topictrends/cluster-core/internal/coordinator"
	"github.com/topictrends/cluster-core/internal/db"
	"github.com/topictrends/cluster-core/internal/db/migrations"
	"github.com/topictrends/cluster-core/internal/dbpool"
	"github.com/topictrends/cluster-core/internal/dispatcher"
	"github.com/topictrends/cluster-core/internal/embedding"
	"github.com/topictrends/cluster-core/internal/events"
	"github.com/topictrends/cluster-core/internal/formatting"
	"github.com/topictrends/cluster-core/internal/processor"
	"github.com/topictrends/cluster-core/internal/queue"
	"github.com/topictrends/cluster-core/internal/store"
	"github.com/topictrends/cluster-core/internal/summarize"
	"github.com/topictrends/cluster-core/internal/ws"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clusterworker",
		Short:        "Idea-clustering core: dispatcher, clustering engines, and admin API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	log.SetLevel(lvl)

	return log
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			log := newLogger(cfg.LogLevel)

			ctx := cmd.Context()

			pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			return db.RunMigrations(ctx, pool, log, migrations.FS)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher loop, cleanup watchdog, and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			return runWorker(cmd.Context(), cfg)
		},
	}
}

// runWorker wires every collaborator interface of internal/domain and runs
// the Dispatcher's two loops alongside the admin HTTP server until ctx is
// cancelled (e.g. by SIGINT/SIGTERM).
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.NewPool(ctx, cfg.DatabaseURL.Value())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, log, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ideaStore := store.NewIdeaStore(pool, log)
	topicStore := store.NewTopicStore(pool, log)
	discussionStore := store.NewDiscussionStore(pool, log)
	workQueue := queue.New(pool, log, queue.NewHolderID())

	embeddingClient := embedding.New(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingRatePerSec)
	formattingClient := formatting.New(cfg.FormattingURL)
	summarizer := summarize.New(cfg.SummarizerURL)

	hub := ws.NewHub(log)
	publisher := events.New(hub, log)

	centroidEngine := clustering.NewCentroidEngine(
		workQueue, topicStore, ideaStore, summarizer, publisher, log,
		clustering.CentroidThresholds{
			MaturityCount:    cfg.MaturityThreshold,
			NewSimilarity:    cfg.NewSimilarity,
			MatureSimilarity: cfg.MatureSimilarity,
		},
	)

	reclusterEngine := clustering.NewReclusteringEngine(
		workQueue, topicStore, ideaStore, summarizer, centroidEngine, log,
		clustering.ReclusterConfig{
			DistanceThreshold: 1 - cfg.ReclusterSimilarity,
			MinGroupSize:      cfg.MinGroupSize,
			ChunkSizeSmall:    cfg.ChunkSizeSmall,
			ChunkSizeLarge:    cfg.ChunkSizeLarge,
		},
	)

	coord := coordinator.New(workQueue, ideaStore, discussionStore, centroidEngine, reclusterEngine, publisher, log, cfg.LockTTL)

	proc := processor.New(embeddingClient, formattingClient, ideaStore, log, cfg.EmbeddingConcurrency)

	disp := dispatcher.New(workQueue, ideaStore, discussionStore, proc, coord, log, dispatcher.Config{
		BatchSize:             cfg.DispatcherBatchSize,
		PollTimeout:           cfg.DequeuePollTimeout,
		MaxConcurrentBatches:  cfg.MaxConcurrentBatches,
		CleanupInterval:       cfg.CleanupInterval,
		StaleProcessingWindow: cfg.StaleProcessingWindow,
	})

	router := api.NewRouter(ctx, &api.RouterDeps{
		Log:         log,
		Pool:        pool,
		Hub:         hub,
		Ideas:       ideaStore,
		Queue:       workQueue,
		Coordinator: coord,
		CORSOrigins: cfg.CORSOrigins,
		Version:     config.Version,
	})

	httpSrv := newHTTPServer(cfg.Addr(), router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		go hub.Run(gctx)
		<-gctx.Done()
		hub.Shutdown()

		return nil
	})

	g.Go(func() error {
		disp.Run(gctx)
		return nil
	})

	g.Go(func() error {
		disp.RunCleanupLoop(gctx)
		return nil
	})

	g.Go(func() error {
		return runHTTPServer(gctx, httpSrv, log)
	})

	log.WithField("addr", cfg.Addr()).Info("clusterworker started")

	return g.Wait()
}
