package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/remarkpay"
	"github.com/vitwit/remarkpay/logger"
	"github.com/vitwit/remarkpay/metrics"
	"github.com/vitwit/remarkpay/store"
	"github.com/vitwit/remarkpay/utils"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	cfg, err := utils.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	zl := logger.NewZapLogger(cfg.LogLevel)
	if s, ok := zl.(interface{ Sync() error }); ok {
		defer s.Sync()
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.EnableMetrics {
		recorder = metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := remarkpay.New(ctx, *cfg,
		remarkpay.WithLogger(zl),
		remarkpay.WithMetrics(recorder),
	)
	if err != nil {
		zl.Error("startup failed", map[string]any{"error": err})
		os.Exit(1)
	}
	defer svc.Close()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: router(svc.Store())}
		go func() {
			zl.Info("ops server starting", map[string]any{"addr": cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error("ops server stopped", map[string]any{"error": err})
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("indexer stopped", map[string]any{"error": err})
	}
	zl.Info("shutting down", nil)
}

func router(orders store.OrderStore) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.HandleFunc("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		order, err := orders.Get(r.Context(), mux.Vars(r)["id"])
		w.Header().Set("Content-Type", "application/json")
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"order not found"}`))
			return
		case err != nil:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"store unavailable"}`))
			return
		}
		json.NewEncoder(w).Encode(order)
	}).Methods(http.MethodGet)
	return r
}
