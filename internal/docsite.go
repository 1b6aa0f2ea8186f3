package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/docsite/internal/authflow"
	"github.com/dgellow/docsite/internal/config"
	"github.com/dgellow/docsite/internal/crypto"
	"github.com/dgellow/docsite/internal/envutil"
	"github.com/dgellow/docsite/internal/idp"
	"github.com/dgellow/docsite/internal/log"
	"github.com/dgellow/docsite/internal/metadata"
	"github.com/dgellow/docsite/internal/metrics"
	"github.com/dgellow/docsite/internal/pkce"
	"github.com/dgellow/docsite/internal/server"
	"github.com/dgellow/docsite/internal/session"
	"github.com/dgellow/docsite/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Docsite is the documentation site's authentication front
type Docsite struct {
	config     config.Config
	handler    http.Handler
	httpServer *server.HTTPServer
	store      storage.Store
	cleanup    *storage.CleanupManager
}

// NewDocsite builds the application with all dependencies
func NewDocsite(ctx context.Context, cfg config.Config) (*Docsite, error) {
	log.LogInfoWithFields("docsite", "Building application", map[string]any{
		"addr":      cfg.Addr(),
		"env":       envutil.Name(),
		"authority": cfg.Identity.Authority(),
		"store":     string(cfg.Session.Store),
	})

	stateKey, err := crypto.DeriveKey([]byte(cfg.Session.Secret), crypto.PurposeStateSigning)
	if err != nil {
		return nil, fmt.Errorf("failed to derive state signing key: %w", err)
	}
	encryptionKey, err := crypto.DeriveKey([]byte(cfg.Session.Secret), crypto.PurposeSessionEncryption)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session encryption key: %w", err)
	}
	encryptor, err := crypto.NewEncryptor(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create session encryptor: %w", err)
	}

	store, cleaner, err := setupStorage(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sessions := session.NewManager(store, encryptor, cfg.Session.TTL)
	ctrl, err := authflow.New(authflow.Deps{
		Sessions:  sessions,
		Metadata:  metadata.NewCache(metadata.NewHTTPFetcher(cfg.Identity.ProviderTimeout), m),
		Providers: idp.NewFactory(cfg.Identity, m),
		PKCE:      pkce.S256Generator{},
		States:    pkce.NewStateCodec(stateKey),
		Errors:    server.NewErrorRenderer(),
		Metrics:   m,
		Authority: cfg.Identity.Authority(),
		Timeout:   cfg.Identity.ProviderTimeout,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create auth controller: %w", err)
	}

	var checks []server.HealthChecker
	if hc, ok := store.(server.HealthChecker); ok {
		checks = append(checks, hc)
	}
	handler := server.NewRouter(cfg, ctrl, sessions, m, checks...)

	d := &Docsite{
		config:     cfg,
		handler:    handler,
		httpServer: server.NewHTTPServer(handler, cfg.Addr()),
		store:      store,
	}
	if cleaner != nil {
		d.cleanup = storage.NewCleanupManager(cleaner, cfg.Session.CleanupInterval)
	}
	return d, nil
}

// Handler returns the fully wired HTTP handler
func (d *Docsite) Handler() http.Handler {
	return d.handler
}

// Run starts the server and blocks until a signal or a server error, then shuts down
func (d *Docsite) Run() error {
	log.LogInfoWithFields("docsite", "Starting application", map[string]any{
		"addr": d.config.Addr(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if d.cleanup != nil {
		d.cleanup.Start(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("docsite", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("docsite", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("docsite", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	serverErr := d.httpServer.Stop(shutdownCtx)
	if serverErr != nil {
		log.LogErrorWithFields("docsite", "HTTP server shutdown error", map[string]any{
			"error": serverErr.Error(),
		})
	}

	if d.cleanup != nil {
		d.cleanup.Stop()
	}
	if err := d.store.Close(); err != nil {
		log.LogWarnWithFields("docsite", "Failed to close session store", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("docsite", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return serverErr
}

// setupStorage creates the session store. The cleaner is non-nil for
// backends without native expiry.
func setupStorage(ctx context.Context, cfg config.SessionConfig) (storage.Store, storage.Cleaner, error) {
	switch cfg.Store {
	case config.SessionStoreRedis:
		log.LogInfoWithFields("storage", "Using Redis session storage", nil)
		store, err := storage.NewRedisStore(ctx, string(cfg.RedisURL))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Redis storage: %w", err)
		}
		return store, nil, nil

	case config.SessionStoreFirestore:
		log.LogInfoWithFields("storage", "Using Firestore session storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		store, err := storage.NewFirestoreStore(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return store, store, nil

	default:
		log.LogInfoWithFields("storage", "Using in-memory session storage", nil)
		return storage.NewMemoryStore(cfg.TTL, cfg.CleanupInterval), nil, nil
	}
}
