package loader

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
)

// Run loads cfg.File, or generates events when no file is given, and submits
// them in batches.
func Run(ctx context.Context, cfg *Config) (Stats, error) {
	start := time.Now()
	log := logger.Get().Named("loader")

	events, err := load(cfg)
	if err != nil {
		return Stats{}, err
	}
	log.Info(ctx, "starting import",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("file", cfg.File),
		logger.Int("events", len(events)),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers),
	)

	stats := submit(ctx, cfg, events)
	stats.Duration = time.Since(start)

	log.Info(ctx, "import finished",
		logger.Int("batches", stats.Batches),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failedRequests", stats.FailedReqs),
		logger.Duration("duration", stats.Duration),
	)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("import interrupted: %w", err)
	}
	return stats, nil
}

func load(cfg *Config) ([]model.EventInput, error) {
	if cfg.File == "" {
		return Generate(cfg.Generate, cfg.Leads, time.Now().Add(-time.Duration(cfg.Generate)*time.Second)), nil
	}
	format := cfg.Format
	if format == "" {
		f, err := FormatOf(cfg.File)
		if err != nil {
			return nil, err
		}
		format = f
	}
	fh, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.File, err)
	}
	defer fh.Close()
	return ReadEvents(fh, format)
}
