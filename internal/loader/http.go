package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/types"
	"github.com/okian/engage/pkg/logger"
)

// client posts batches to the service.
type client struct {
	hc      *http.Client
	baseURL string
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		hc:      &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// postBatch submits one batch and returns the service's per-item result.
func (c *client) postBatch(ctx context.Context, events []model.EventInput) (types.BatchResult, error) {
	body, err := json.Marshal(map[string]any{"events": events})
	if err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: marshal: %w", ErrSubmit, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events/batch", bytes.NewReader(body))
	if err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: %w", ErrSubmit, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: read response: %w", ErrSubmit, err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.BatchResult{}, fmt.Errorf("%w: status %d: %s", ErrSubmit, resp.StatusCode, bytes.TrimSpace(data))
	}
	var res types.BatchResult
	if err := json.Unmarshal(data, &res); err != nil {
		return types.BatchResult{}, fmt.Errorf("%w: decode response: %w", ErrSubmit, err)
	}
	return res, nil
}

// submit splits events into batches and sends them with cfg.Workers senders.
// A failed request counts its whole batch as rejected and does not stop the run.
func submit(ctx context.Context, cfg *Config, events []model.EventInput) Stats {
	log := logger.Get().Named("loader")
	c := newClient(cfg.BaseURL, cfg.Timeout)

	batches := make(chan []model.EventInput, cfg.Workers)
	go func() {
		defer close(batches)
		for start := 0; start < len(events); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(events))
			select {
			case <-ctx.Done():
				return
			case batches <- events[start:end]:
			}
		}
	}()

	var (
		mu    sync.Mutex
		stats = Stats{Events: len(events)}
		wg    sync.WaitGroup
	)
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				res, err := c.postBatch(ctx, batch)

				mu.Lock()
				stats.Batches++
				if err != nil {
					stats.FailedReqs++
					stats.Rejected += len(batch)
				} else {
					stats.Accepted += res.Accepted
					stats.Duplicates += res.Duplicates
					stats.Rejected += res.Errors
				}
				mu.Unlock()

				if err != nil {
					log.Error(ctx, "batch failed", logger.Int("size", len(batch)), logger.Error(err))
					continue
				}
				for _, d := range res.ErrorDetails {
					log.Warn(ctx, "event rejected",
						logger.String("event_id", d.EventID),
						logger.String("reason", d.Error),
					)
				}
				if cfg.Verbose {
					log.Info(ctx, "batch submitted",
						logger.Int("size", len(batch)),
						logger.Int("accepted", res.Accepted),
						logger.Int("duplicates", res.Duplicates),
						logger.Int("errors", res.Errors),
					)
				}
			}
		}()
	}
	wg.Wait()
	return stats
}
