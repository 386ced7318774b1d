package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/your-org/dqn-trader/internal/config"
	"github.com/your-org/dqn-trader/pkg/logger"
)

func main() {
	var opts runOptions
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to config file")
	flag.StringVar(&opts.resumeDir, "resume", "", "checkpoint directory to resume from")
	flag.StringVar(&opts.migrationsDir, "migrations", "db/schema", "directory of postgres migrations")
	flag.StringVar(&opts.historyCSV, "history-csv", "", "write the training history to this CSV file")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetGlobalLogLevel(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("Logger initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	opts.stop = stop
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logger.Info("Signal received, stopping after the current episode. Signal again to abort.")
		close(stop)
		<-c
		logger.Warn("Second signal received, aborting.")
		cancel()
	}()

	if err := run(ctx, cfg, opts); err != nil {
		logger.Errorf("Training failed: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("Learner finished.")
}
