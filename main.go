package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"cardnotes/models"
	"cardnotes/web"
	"cardnotes/web/api"

	"github.com/joho/godotenv"
	"github.com/rohanthewiz/logger"
)

func main() {
	// A missing .env is fine; the environment may be set directly
	_ = godotenv.Load()

	logLevel := os.Getenv("CARDNOTES_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.SetLogLevel(logLevel)

	cfg, err := models.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	if err := models.InitJWT(); err != nil {
		log.Fatal("Failed to initialize JWT: ", err)
	}

	var store *models.LocalStore
	storeMetrics := models.NewMetrics("local_store")
	if cfg.StorePath == "" {
		logger.Info("Local persistence disabled, running remote-only")
		store = models.NewUnavailableStore(storeMetrics)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
			log.Fatal("Failed to create data directory: ", err)
		}
		store, err = models.OpenLocalStore(cfg.StorePath, storeMetrics)
		if err != nil {
			log.Fatal("Failed to open local store: ", err)
		}
		defer store.Close()
	}

	cloud := models.NewCloudClient(cfg.CloudURL, cfg.CloudToken, models.NewMetrics("cloud_client"))
	cloud.SetMetaSink(store)

	queue := models.NewSyncQueue(store, cloud)
	queue.SetInterval(cfg.QueueInterval)

	reconciler := models.NewReconciler(store, cloud)
	reconciler.SetInterval(cfg.ReconcileInterval)
	reconciler.SetValidationWindow(cfg.ValidationWindow)

	engine := models.NewSyncEngine(store, cloud, queue, reconciler)
	api.SetEngine(engine)

	ctx := context.Background()
	queue.Start(ctx)
	defer queue.Stop()
	reconciler.Start(ctx)
	defer reconciler.Stop()

	srv := web.NewServer(cfg.HTTPAddr)
	log.Fatal(web.Run(srv, cfg.HTTPAddr))
}
