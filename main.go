package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"propmarket/api"
	"propmarket/config"
	"propmarket/httputil"
	"propmarket/identity"
	"propmarket/logging"
	"propmarket/reconcile"
	"propmarket/scheduler"
	"propmarket/services"
	"propmarket/storage"
	"propmarket/workers"
)

var (
	reconcileNow = flag.Bool("reconcile", false, "Run one orphan reconciliation and exit")
	sweepNow     = flag.Bool("sweep", false, "Drain one batch of the sweep queue and exit")
	migrate      = flag.Bool("migrate", false, "Apply the Postgres schema and exit")
	dryRun       = flag.Bool("dry-run", false, "With -reconcile: report orphans without deleting")
)

// appStore is the relational surface main wires into every component
type appStore interface {
	services.ListingStore
	reconcile.TextSource
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else if logFile != nil {
		defer logFile.Close()
	}

	log.Println("Starting propmarket...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store appStore
	var ping func(context.Context) error
	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))

		if *migrate {
			if err := pgStore.Migrate(ctx); err != nil {
				log.Fatalf("Migration failed: %v", err)
			}
			log.Println("Migration complete!")
			return
		}
		store = pgStore
		ping = pgStore.Ping
	} else {
		if *migrate {
			log.Fatalf("-migrate needs DATABASE_URL")
		}
		log.Println("Warning: DATABASE_URL not set, using in-memory store (data is lost on exit)")
		store = storage.NewMemoryStore()
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up blob storage: %v", err)
	}
	blobs = storage.NewThrottledBlobStore(blobs, cfg.Storage.RPS, cfg.Storage.Burst)
	log.Printf("Blob backend: %s", cfg.BlobBackend)

	// SQLite for operational data (sweep queue, run history, commands, logs)
	opsStore, err := storage.NewSQLiteStore(cfg.OpsDBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer opsStore.Close()
	log.Printf("Ops database: %s", cfg.OpsDBPath)

	keys := identity.NewKeyspace(cfg.Storage.ListingPrefix, cfg.Storage.StagingPrefix)
	opts := reconcile.Options{
		PageSize:    cfg.Reconcile.PageSize,
		DeleteBatch: cfg.Reconcile.DeleteBatch,
		MaxPages:    cfg.Reconcile.MaxPages,
		CallTimeout: cfg.Storage.CallTimeout,
	}
	reconciler := reconcile.New(blobs, store, keys, opts)

	var legacy *reconcile.LegacyScanner
	if cfg.Legacy.Enabled {
		legacy, err = reconcile.NewLegacyScanner(blobs, store, keys, cfg.Legacy, opts)
		if err != nil {
			log.Fatalf("Failed to set up legacy scan: %v", err)
		}
		log.Printf("Legacy reference scan enabled for %s", cfg.Legacy.Root)
	}

	statusService := services.NewStatusService(store, cfg.Notification.DefaultLink)
	mediaAttacher := services.NewMediaAttacher(store, blobs, keys, cfg.Storage.CallTimeout)
	listingService := services.NewListingService(store, statusService, mediaAttacher, opsStore)
	cleanupService := services.NewCleanupService(reconciler, legacy, opsStore)
	log.Println("Services initialized")

	sweepWorker := workers.NewSweepWorker(opsStore, reconciler, store, cfg.Sweep.MaxAttempts)
	sweepWorker.SetLogger(workers.OpsLogger(opsStore))

	// Handle one-shot commands
	if *reconcileNow {
		log.Println("Running reconciliation...")
		result, err := cleanupService.Run(ctx, "cli", *dryRun)
		if err != nil {
			log.Fatalf("Reconcile failed: %v", err)
		}
		log.Printf("Reconcile complete! %d orphans, %d deleted, %d errors", result.OrphansFound, result.DeletedCount, result.Errors)
		return
	}
	if *sweepNow {
		n := sweepWorker.ProcessBatch(ctx, cfg.Sweep.BatchSize)
		log.Printf("Sweep complete! %d listings cleared", n)
		return
	}

	// Daemon mode
	sched := scheduler.New(cfg.Reconcile, cleanupService, opsStore)
	sched.SetSweeper(sweepWorker)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go sweepWorker.Run(ctx, cfg.Sweep.BatchSize, cfg.Sweep.Interval)
	log.Println("Sweep worker started")

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(&api.Handler{
		Listings: listingService,
		Status:   statusService,
		Media:    mediaAttacher,
		Cleanup:  cleanupService,
		Ping:     ping,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("HTTP API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	sched.Stop()
	cancel()
	log.Println("Goodbye!")
}

func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.BlobBackend {
	case "s3":
		s3Store, err := storage.NewS3BlobStore(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	case "memory":
		log.Println("Warning: BLOB_BACKEND=memory, objects are lost on exit")
		return storage.NewMemoryBlobStore(), nil
	default:
		clients := httputil.NewClients(&cfg.Storage)
		return storage.NewSupabaseStorage(&cfg.Supabase, clients.Storage), nil
	}
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
