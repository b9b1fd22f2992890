package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/fahertym/coopledger/config"
	"github.com/fahertym/coopledger/network"
	"github.com/fahertym/coopledger/node"
	"github.com/fahertym/coopledger/store"
)

func main() {
	envPath := flag.String("env", "", "path to a .env file loaded before the config")
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			logrus.Fatalf("Error loading .env file from %s: %v", *envPath, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := store.NewDatabase(cfg.DataDir)
	if err != nil {
		logrus.Fatalf("Failed to open the ledger database at %s: %v", cfg.DataDir, err)
	}
	st, err := store.NewStore(db)
	if err != nil {
		logrus.Fatalf("Failed to initialize the store: %v", err)
	}
	defer st.Close()

	hub := network.NewEventHub()
	defer hub.Close()

	n, err := node.New(node.Options{
		ShardCount:          cfg.ShardCount,
		ConsensusThreshold:  cfg.ConsensusThreshold,
		ConsensusQuorum:     cfg.ConsensusQuorum,
		QueueCapacity:       cfg.WorkerQueueCapacity,
		WaitPollInterval:    cfg.WaitPollInterval(),
		UnlockRetryAttempts: cfg.UnlockRetryAttempts,
		Store:               st,
		Events:              hub,
	})
	if err != nil {
		logrus.Fatalf("Failed to assemble the node: %v", err)
	}
	defer n.Close()

	if err := n.LoadState(); err != nil {
		logrus.Fatalf("Failed to restore persisted state: %v", err)
	}
	logrus.WithFields(logrus.Fields{
		"shards":    cfg.ShardCount,
		"threshold": cfg.ConsensusThreshold,
		"quorum":    cfg.ConsensusQuorum,
	}).Info("ledger node ready")

	router := network.NewRouter(n, hub)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router.SetupRoutes(),
	}

	go func() {
		logrus.Infof("Listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP shutdown: %v", err)
	}
}
