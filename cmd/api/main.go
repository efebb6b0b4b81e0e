package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"policygate.org/internal/blob"
	"policygate.org/internal/config"
	"policygate.org/internal/eval"
	"policygate.org/internal/health"
	"policygate.org/internal/httpapi"
	"policygate.org/internal/identity"
	"policygate.org/internal/obs"
	"policygate.org/internal/opa"
	"policygate.org/internal/policies"
	"policygate.org/internal/registry"
	"policygate.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	engine, err := opa.NewClient(cfg.EngineURL, opa.WithTimeout(cfg.EngineTimeout))
	if err != nil {
		log.Fatalf("engine client: %v", err)
	}

	var blobs blob.Store
	if cfg.S3Bucket != "" {
		s3Store, err := blob.NewS3Store(context.Background(), blob.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			log.Fatalf("blob store: %v", err)
		}
		blobs = s3Store
	} else {
		log.Println("no S3 bucket configured, policy sources kept in memory")
		blobs = blob.NewMemoryStore()
	}

	synchronizer := registry.NewSynchronizer(store, engine, cfg.SyncMaxAttempts, cfg.SyncInitialInterval)
	registrySvc := registry.NewService(store, synchronizer)
	policyMgr := policies.NewManager(store, blobs, engine)
	evaluator := eval.New(engine, store)

	agg := health.New(2*time.Second,
		health.Probe{Name: "database", Check: store.Ping},
		health.Probe{Name: "policy_engine", Check: engine.Liveness},
		health.Probe{Name: "blob_store", Check: blobs.Ping},
	)

	api := httpapi.New(httpapi.Config{
		Registry:   registrySvc,
		Evaluator:  evaluator,
		Policies:   policyMgr,
		Health:     agg,
		Decoder:    identity.NewDecoder(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.JWTVerifySignature),
		AdminGroup: cfg.AdminADGroup,
		Version:    version,
	})

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSec)

	// Startup convergence: base policy, custom policy reload and the first
	// snapshot push run concurrently. Failures are logged, not fatal; the
	// engine catches up on the next mutation or manual sync.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	g, gctx := errgroup.WithContext(startupCtx)
	g.Go(func() error {
		if err := engine.EnsureBasePolicy(gctx); err != nil {
			obs.LogEvent("error", "base policy install failed", map[string]any{"error": err.Error()})
		}
		return nil
	})
	g.Go(func() error {
		if n, err := policyMgr.ReloadAll(gctx); err != nil {
			obs.LogEvent("error", "custom policy reload failed", map[string]any{"error": err.Error()})
		} else if n > 0 {
			obs.LogEvent("info", "custom policies loaded", map[string]any{"count": n})
		}
		return nil
	})
	g.Go(func() error {
		if err := registrySvc.Sync(gctx); err != nil {
			obs.LogEvent("error", "initial snapshot sync failed", map[string]any{"error": err.Error()})
		}
		return nil
	})
	_ = g.Wait()
	startupCancel()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting policygate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
