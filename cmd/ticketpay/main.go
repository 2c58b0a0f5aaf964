package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/eventpass/ticketpay/internal/config"
	"github.com/eventpass/ticketpay/internal/notify"
	"github.com/eventpass/ticketpay/internal/orchestrator"
	"github.com/eventpass/ticketpay/internal/provider"
	"github.com/eventpass/ticketpay/internal/server"
	"github.com/eventpass/ticketpay/internal/store"
)

func init() {
	// Initialize logger
	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	var txStore store.TransactionStore
	if cfg.DBPath != "" {
		boltStore, err := store.NewBoltStore(cfg.DBPath)
		if err != nil {
			log.Fatal("Failed to open transaction store: ", err)
		}
		defer boltStore.Close()
		txStore = boltStore
	} else {
		txStore = store.NewMemoryStore()
	}

	orch := orchestrator.New(txStore, provider.FromConfig(cfg), notify.NewDispatcher(cfg))
	router := server.NewRouter(orch)

	log.WithFields(log.Fields{
		"port": cfg.Port,
		"mode": cfg.Mode,
		"db":   cfg.DBPath,
	}).Info("Ticketpay service starting")

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
