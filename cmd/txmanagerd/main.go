package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Ap3pp3rs94/txmanager/internal/config"
	"github.com/Ap3pp3rs94/txmanager/internal/enclave"
	"github.com/Ap3pp3rs94/txmanager/internal/fanout"
	"github.com/Ap3pp3rs94/txmanager/internal/partyinfo"
	"github.com/Ap3pp3rs94/txmanager/internal/resend"
	"github.com/Ap3pp3rs94/txmanager/internal/store"
	"github.com/Ap3pp3rs94/txmanager/internal/telemetry"
	"github.com/Ap3pp3rs94/txmanager/internal/txmgr"
)

// Populated by -ldflags in the container build.
var (
	version = "0.0.0"
	commit  = "dev"
)

const serviceName = "txmanagerd"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: load config: %v\n", serviceName, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid config: %v\n", serviceName, err)
		os.Exit(1)
	}

	logger := telemetry.New(os.Stdout, telemetry.Options{Service: serviceName, Level: telemetry.LevelInfo})
	ctx := telemetry.WithNodeID(context.Background(), serviceName)

	logger.Info(ctx, "service_start", map[string]any{
		"version":           version,
		"commit":            commit,
		"listen_addr":       cfg.ListenAddr,
		"store_driver":      cfg.Store.Driver,
		"party_info_mode":   cfg.PartyInfo.Mode,
		"resend_fetch_size": cfg.ResendFetchSize,
	})

	mgr, closer, err := wireManager(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "wire_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer closer()

	api := newAPI(mgr, logger)
	r := mux.NewRouter()
	r.HandleFunc("/health", api.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", api.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/transaction/send", api.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/transaction/sendSignedTransaction", api.handleSendSignedTransaction).Methods(http.MethodPost)
	r.HandleFunc("/transaction/storePayload", api.handleStorePayload).Methods(http.MethodPost)
	r.HandleFunc("/transaction/store", api.handleStore).Methods(http.MethodPost)
	r.HandleFunc("/transaction/{key}", api.handleReceive).Methods(http.MethodGet)
	r.HandleFunc("/transaction/{key}", api.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/resend/all", api.handleResendAll).Methods(http.MethodPost)
	r.HandleFunc("/resend/individual", api.handleResendIndividual).Methods(http.MethodPost)

	handler := chain(r, recoverMW(logger), requestIDMW(), loggingMW(logger))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(ctx, "shutdown_signal", map[string]any{"signal": sig.String()})
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server_error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "shutdown_error", map[string]any{"error": err.Error()})
	} else {
		logger.Info(ctx, "shutdown_complete", map[string]any{"service": serviceName})
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server_error_post_shutdown", map[string]any{"error": err.Error()})
		}
	default:
	}
}

// wireManager builds the full dependency graph a TransactionManager
// needs: a SQL store behind a read-through cache, a reference Enclave,
// a PartyInfo publisher selected by config, and an in-memory resend
// manager. The returned closer releases anything that holds a live
// connection (the websocket publisher, the database).
func wireManager(ctx context.Context, cfg config.Config, logger *telemetry.Logger) (*txmgr.TransactionManager, func(), error) {
	db, err := sql.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	dialect := store.DialectPostgres
	if cfg.Store.Driver == "sqlite3" {
		dialect = store.DialectSQLite
	}
	sqlStore, err := store.New(db, store.Options{Dialect: dialect})
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("construct store: %w", err)
	}
	if err := sqlStore.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	txStore := store.NewCachedTxStore(store.NewTxStore(sqlStore), store.DefaultCachePolicy(), nil)
	rawStore := store.NewRawTxStore(sqlStore)

	resolver := make(partyinfo.StaticResolver, len(cfg.PartyInfo.Addr))
	for k, v := range cfg.PartyInfo.Addr {
		resolver[k] = v
	}

	var publisher partyinfo.PartyInfo
	var closer func()
	switch cfg.PartyInfo.Mode {
	case "websocket":
		ws := partyinfo.NewWSPublisher(resolver)
		publisher = ws
		closer = func() { _ = ws.Close() }
	default:
		publisher = partyinfo.NewHTTPPublisher(resolver)
		closer = func() {}
	}

	nodeKey := []byte(serviceName + "-node-key")
	enc := enclave.NewMemEnclave(nodeKey, []byte(serviceName+"-master-secret-change-me-in-prod"), nil)
	resendMgr := resend.NewMemResendManager(1000)

	mgr := txmgr.New(txStore, rawStore, enc, publisher, resendMgr, txmgr.Options{
		ResendFetchSize: cfg.ResendFetchSize,
		RetryPolicy:     fanout.DefaultRetryPolicy,
		DeadLetters:     fanout.NewDeadLetterLog(1000),
		Logger:          logger,
	})

	return mgr, func() {
		closer()
		_ = db.Close()
	}, nil
}

////////////////////////////////////////////////////////////////////////////
// middleware
////////////////////////////////////////////////////////////////////////////

type middleware func(http.Handler) http.Handler

func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

var reqCounter uint64

func recoverMW(l *telemetry.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error(r.Context(), "panic_recovered", map[string]any{"panic": fmt.Sprintf("%v", rec)})
					writeError(w, http.StatusInternalServerError, "internal", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMW() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if rid == "" {
				n := atomic.AddUint64(&reqCounter, 1)
				rid = fmt.Sprintf("req_%d", n)
			}
			ctx := telemetry.WithRequestID(r.Context(), rid)
			w.Header().Set("X-Request-Id", rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func loggingMW(l *telemetry.Logger) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			l.Info(r.Context(), "http_request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"bytes":       sw.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

////////////////////////////////////////////////////////////////////////////
// JSON helpers
////////////////////////////////////////////////////////////////////////////

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": code, "message": msg})
}
