package client

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

// TransferBatch runs every transfer concurrently over the client's shared
// connection pool, at most Config.BatchWorkers at a time. The result slice
// matches reqs by index; a transfer that failed, panicked, or never started
// because ctx was done leaves nil in its slot.
func (c *Client) TransferBatch(ctx context.Context, reqs []domain.TransferRequest, opts ...CallOption) []*domain.TransferResult {
	results := make([]*domain.TransferResult, len(reqs))
	c.log.Info("executing transfer batch", zap.Int("count", len(reqs)), zap.Int("workers", c.cfg.BatchWorkers))

	var g errgroup.Group
	if c.cfg.BatchWorkers > 0 {
		g.SetLimit(c.cfg.BatchWorkers)
	}

	for i, req := range reqs {
		i, req := i, req
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = nil
					c.fail("transfer", fmt.Errorf("panic: %v", r), zap.Int("index", i))
				}
			}()
			if ctx.Err() != nil {
				return nil
			}
			results[i] = c.Transfer(ctx, req.FromAccount, req.ToAccount, req.Amount, opts...)
			return nil
		})
	}
	_ = g.Wait()

	var ok int
	for _, r := range results {
		if r != nil {
			ok++
		}
	}
	c.log.Info("transfer batch finished", zap.Int("count", len(reqs)), zap.Int("with_result", ok))
	return results
}
