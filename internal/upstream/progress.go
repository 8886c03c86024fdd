package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// progressQuery asks the indexer how far its data has advanced. The
// block number is a monotonic counter, which is all the write guard
// needs.
const progressQuery = `{ _meta { block { number } } }`

var errNoCounter = errors.New("upstream progress counter unavailable")

// Progress fetches the upstream's current progress counter. A missing
// or non-numeric value is an error, never zero: zero would look like a
// regression to every recorded counter.
func (c *Client) Progress(parentCtx context.Context) (uint64, error) {
	start := time.Now()

	body, err := json.Marshal(QueryRequest{Query: progressQuery})
	if err != nil {
		return 0, fmt.Errorf("upstream: marshal probe: %w", err)
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.ProbeTimeout)
	defer cancel()

	resp, err := c.post(ctx, body)
	if err != nil {
		err = classify(err)
		c.logger.Warn("progress probe failed", zap.Error(err))
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("progress probe rejected", zap.Int("status", resp.StatusCode))
		return 0, fmt.Errorf("%w: probe status %d", errNoCounter, resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("upstream: read probe body: %w", err)
	}

	var probe struct {
		Data struct {
			Meta struct {
				Block struct {
					Number *uint64 `json:"number"`
				} `json:"block"`
			} `json:"_meta"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0, fmt.Errorf("%w: %v", errNoCounter, err)
	}
	if probe.Data.Meta.Block.Number == nil {
		return 0, errNoCounter
	}

	counter := *probe.Data.Meta.Block.Number
	c.logger.Debug("progress probe completed",
		zap.Uint64("counter", counter),
		zap.Duration("duration", time.Since(start)),
	)
	return counter, nil
}
