package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/engage/internal/loader"
	"github.com/okian/engage/pkg/logger"
)

// Default configuration constants.
const (
	defaultGenerate  = 1000
	defaultLeads     = 50
	defaultBatchSize = 500
	defaultWorkers   = 4
	defaultTimeout   = 30 * time.Second
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		file      = flag.String("file", "", "CSV or JSON file to import (default: generate events)")
		format    = flag.String("format", "", "Input format: csv or json (default: from extension)")
		generate  = flag.Int("generate", defaultGenerate, "Number of synthetic events when no file is given")
		leads     = flag.Int("leads", defaultLeads, "Distinct leads used by synthetic events")
		batchSize = flag.Int("batch", defaultBatchSize, "Events per batch request")
		workers   = flag.Int("workers", defaultWorkers, "Concurrent batch senders")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		verbose   = flag.Bool("verbose", false, "Log every batch")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loader.ShowHelp()
		return
	}
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *batchSize < 1 || *workers < 1 {
		os.Stderr.WriteString("batch and workers must be positive\n")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := loader.Run(ctx, &loader.Config{
		BaseURL:   *baseURL,
		File:      *file,
		Format:    *format,
		Generate:  *generate,
		Leads:     *leads,
		BatchSize: *batchSize,
		Workers:   *workers,
		Timeout:   *timeout,
		Verbose:   *verbose,
	})
	if err != nil {
		os.Stderr.WriteString("import failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	if stats.Rejected > 0 {
		os.Exit(1)
	}
}
