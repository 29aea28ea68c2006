package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/logging"
	"github.com/punchamoorthee/bankclient/internal/metrics"
	"github.com/punchamoorthee/bankclient/internal/sandbox"
)

const defaultPort = "8123"

func main() {
	_ = godotenv.Load()

	log, err := logging.New(os.Getenv("BANKING_LOG_LEVEL"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	port := os.Getenv("SANDBOX_PORT")
	if port == "" {
		port = defaultPort
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bank := sandbox.NewBank()
	handler := sandbox.NewHandler(bank, metrics.New(reg))

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("sandbox bank starting",
			zap.String("port", port),
			zap.String("accounts", "ACC1000-ACC1099"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("sandbox server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("sandbox shutdown failed", zap.Error(err))
	}
	log.Info("sandbox bank stopped", zap.Int("tokens_issued", bank.TokensIssued()))
}
