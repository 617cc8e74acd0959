package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"headliner/internal/config"
	"headliner/internal/dispatch"
	"headliner/internal/headline"
	"headliner/internal/ingest"
	"headliner/internal/model"
	web "headliner/internal/server"
	"headliner/internal/store"
	"headliner/internal/worker"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	logger  *zap.Logger
	cfg     *config.Config
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "headliner",
	Short:         "headliner - headline lists and article state for a feed reader",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger, err = newLogger(cfg.Log.Level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openStore(withBadger bool) (*store.HybridStore, error) {
	path := ""
	if withBadger {
		path = cfg.Badger.Path
	}
	return store.NewHybridStore(cfg.Redis.Addr, path, store.WithFreshAge(cfg.Headlines.FreshMaxAge))
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the worker and web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Setup Signal Handling (Ctrl+C)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		// Setup Manual 'q' input handling
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if scanner.Text() == "q" {
					fmt.Println(" 'q' pressed. Stopping...")
					cancel()
					return
				}
			}
		}()

		go func() {
			<-sigChan
			logger.Info("Shutting down...")
			cancel()
		}()

		// Initialize Store (FULL MODE - Redis + Badger)
		st, err := openStore(true)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close()

		port, err := store.NewQueuePort(ctx, st, logger)
		if err != nil {
			return fmt.Errorf("init queue port: %w", err)
		}
		d := dispatch.NewDispatcher(port, st, logger)
		im := ingest.NewImporter(st, logger)
		srv := web.NewServer(st, d, im, st, web.Options{
			OnlyUnread:  cfg.Headlines.OnlyUnread,
			OldestFirst: cfg.Headlines.OldestFirst,
			MaxViews:    cfg.Server.MaxViews,
		}, logger)

		g, gCtx := errgroup.WithContext(ctx)

		g.Go(func() error {
			worker.NewWorker(st, st, logger).Start(gCtx)
			return nil
		})

		g.Go(func() error {
			if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			return srv.Stop(shutdownCtx)
		})

		logger.Info("Server running.")
		fmt.Println("Press 'q' + Enter or Ctrl+C to stop.")

		// Block until shutdown
		err = g.Wait()
		if n := port.Pending(); n > 0 {
			logger.Warn("Exiting with unconfirmed updates", zap.Int("pending", n))
		}
		if err != nil {
			logger.Error("Server stopped with error", zap.Error(err))
			return err
		}
		logger.Info("Goodbye!")
		return nil
	},
}

var importCategory int64

var importCmd = &cobra.Command{
	Use:   "import [url]",
	Short: "Subscribe to a feed and store its articles (server must be stopped)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(true)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*ingest.FetchTimeout)
		defer cancel()
		feed, added, err := ingest.NewImporter(st, logger).Import(ctx, args[0], importCategory)
		if err != nil {
			return err
		}
		if err := st.NotifyChange(ctx); err != nil {
			logger.Warn("Change notification failed", zap.Error(err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "feed %d %q: %d new articles\n", feed.ID, feed.Title, added)
		return nil
	},
}

var (
	listFeed      int64
	listCategory  int64
	listSelectCat bool
	listUnread    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the headlines of a feed, virtual feed or category (server must be stopped)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(true)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer st.Close()

		q := model.HeadlineQuery{
			Scope:       model.ScopeFor(listFeed, listCategory, listSelectCat),
			OnlyUnread:  listUnread || cfg.Headlines.OnlyUnread,
			OldestFirst: cfg.Headlines.OldestFirst,
		}
		items, err := st.Headlines(context.Background(), q)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, row := range headline.Rows(items, time.Now()) {
			fmt.Fprintf(out, "%3d %6d %-18s %s\n", i, row.Article.ID, row.Icon, row.DisplayTitle)
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .headliner.yaml)")
	rootCmd.PersistentFlags().String("redis", "localhost:6379", "Address of Redis server")
	rootCmd.PersistentFlags().String("badger", "./badger-data", "Path to BadgerDB data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	_ = v.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis"))
	_ = v.BindPFlag("badger.path", rootCmd.PersistentFlags().Lookup("badger"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	serverCmd.Flags().String("port", "8080", "HTTP listen port")
	_ = v.BindPFlag("server.port", serverCmd.Flags().Lookup("port"))

	importCmd.Flags().Int64Var(&importCategory, "category", 0, "category for a new subscription")

	listCmd.Flags().Int64Var(&listFeed, "feed", model.VirtualAll, "feed id; -1 starred, -2 published, -3 fresh, -4 all")
	listCmd.Flags().Int64Var(&listCategory, "cat", 0, "category id")
	listCmd.Flags().BoolVar(&listSelectCat, "select-cat", false, "list the whole category instead of one feed")
	listCmd.Flags().BoolVar(&listUnread, "unread", false, "only unread articles")

	rootCmd.AddCommand(serverCmd, importCmd, listCmd)
	addUpdateCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
