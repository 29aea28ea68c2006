package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/client"
	"github.com/punchamoorthee/bankclient/internal/config"
	"github.com/punchamoorthee/bankclient/internal/domain"
	"github.com/punchamoorthee/bankclient/internal/journal"
	"github.com/punchamoorthee/bankclient/internal/logging"
)

var (
	configPath string
	targetURL  string
	workers    int
	batchSize  int
	duration   time.Duration
	workload   string
	noAuth     bool
	outFile    string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Config file (defaults to BANKING_CONFIG)")
	flag.StringVar(&targetURL, "url", "", "API base URL (overrides config)")
	flag.IntVar(&workers, "workers", 10, "Concurrent transfers per batch")
	flag.IntVar(&batchSize, "batch", 50, "Transfers per batch round")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.BoolVar(&noAuth, "no-auth", false, "Send transfers without a bearer token")
	flag.StringVar(&outFile, "out", "", "Also write the summary here (default results_<workload>.json)")
}

type summary struct {
	Workload      string  `json:"workload"`
	DurationSec   float64 `json:"duration_sec"`
	Rounds        int     `json:"rounds"`
	Total         int     `json:"total_requests"`
	ThroughputTPS float64 `json:"throughput_tps"`
	Succeeded     int     `json:"succeeded"`
	Declined      int     `json:"declined"`
	Errors        int     `json:"errors"`
	ErrorRatePct  float64 `json:"error_rate_pct"`
	Journaled     int64   `json:"journaled,omitempty"`
}

func (s *summary) add(results []*domain.TransferResult) {
	s.Rounds++
	for _, r := range results {
		s.Total++
		switch {
		case r == nil:
			s.Errors++
		case r.Succeeded():
			s.Succeeded++
		default:
			s.Declined++
		}
	}
}

func (s *summary) finish(d time.Duration) {
	s.DurationSec = d.Seconds()
	if d > 0 {
		s.ThroughputTPS = float64(s.Total) / d.Seconds()
	}
	if s.Total > 0 {
		s.ErrorRatePct = float64(s.Errors) / float64(s.Total) * 100
	}
}

func main() {
	flag.Parse()
	if workload != "uniform" && workload != "hotspot" {
		fmt.Fprintf(os.Stderr, "unknown workload %q\n", workload)
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if targetURL != "" {
		cfg.BaseURL = targetURL
	}
	if noAuth {
		cfg.UseAuth = false
	}
	cfg.BatchWorkers = workers

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	mem := journal.NewMemory()
	c := client.New(cfg, client.WithLogger(log.Named("client").WithOptions(zap.IncreaseLevel(zap.WarnLevel))), client.WithJournal(mem))
	defer c.Close()

	log.Info("starting load run",
		zap.String("workload", workload),
		zap.Int("workers", workers),
		zap.Int("batch", batchSize),
		zap.Duration("duration", duration),
		zap.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var s summary
	s.Workload = workload

	start := time.Now()
	for ctx.Err() == nil {
		s.add(c.TransferBatch(ctx, generateRequests(rng, workload, batchSize)))
	}
	s.finish(time.Since(start))

	if cfg.DBSource != "" {
		s.Journaled = flushJournal(cfg.DBSource, mem, log)
	}

	if err := writeSummary(&s); err != nil {
		log.Error("could not write summary", zap.Error(err))
		os.Exit(1)
	}
}

// flushJournal copies the run's journal into Postgres.
func flushJournal(dsn string, mem *journal.Memory, log *zap.Logger) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pg, err := journal.NewPostgres(ctx, dsn)
	if err != nil {
		log.Error("journal database unavailable", zap.Error(err))
		return 0
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		log.Error("journal migration failed", zap.Error(err))
		return 0
	}

	entries, _ := mem.Recent(ctx, 0)
	n, err := pg.Import(ctx, entries)
	if err != nil {
		log.Error("journal import failed", zap.Error(err))
		return 0
	}
	log.Info("journal flushed", zap.Int64("rows", n))
	return n
}

func writeSummary(s *summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return err
	}

	name := outFile
	if name == "" {
		name = fmt.Sprintf("results_%s.json", s.Workload)
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(s)
}
