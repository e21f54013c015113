package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tessera-labs/tessera/internal/domain"
	"github.com/tessera-labs/tessera/internal/repo"
)

// DefaultSweepName names the checkpoint of an unnamed sweep.
const DefaultSweepName = "default"

// Report counts the feature sets visited by a fan-out or sweep.
type Report struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Matched   int `json:"matched"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type tally struct {
	mu     sync.Mutex
	report Report
}

func (t *tally) add(res Result, err error) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Processed++
	switch {
	case err != nil:
		t.report.Failed++
		return "failed"
	case res.Outcome == OutcomeCreated:
		t.report.Created++
	case res.Outcome == OutcomeMatched:
		t.report.Matched++
	default:
		t.report.Skipped++
	}
	return string(res.Outcome)
}

func (t *tally) snapshot() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report
}

// Sweep auto-integrates every auto-integrating feature set, one keyset page at
// a time. The cursor is checkpointed after each page so an interrupted sweep
// resumes where it stopped; a completed sweep clears its checkpoint.
// Failures of single branches are logged and counted, never returned.
func (c *Controller) Sweep(ctx context.Context, name string) (Report, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSweepName
	}
	cursor, err := c.checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		return Report{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if cursor != "" {
		c.logger.Info("sweep resuming", "sweep", name, "after", cursor)
	}

	t := &tally{}
	for {
		page, err := c.branches.ListFeatureSets(ctx, repo.BranchPage{
			After:         cursor,
			Limit:         c.sweep.PageSize,
			AutoIntegrate: true,
		})
		if err != nil {
			return t.snapshot(), fmt.Errorf("list feature sets: %w", err)
		}
		if len(page) == 0 {
			break
		}

		c.integrateAll(ctx, page, t, "sweep")
		if err := ctx.Err(); err != nil {
			return t.snapshot(), err
		}
		cursor = page[len(page)-1].ID
		if err := c.checkpoints.SaveCheckpoint(ctx, name, cursor); err != nil {
			return t.snapshot(), fmt.Errorf("save checkpoint: %w", err)
		}
		if len(page) < c.sweep.PageSize {
			break
		}
	}
	if err := c.checkpoints.ClearCheckpoint(ctx, name); err != nil {
		return t.snapshot(), fmt.Errorf("clear checkpoint: %w", err)
	}
	report := t.snapshot()
	c.logger.Info("sweep finished",
		"sweep", name,
		"processed", report.Processed,
		"created", report.Created,
		"matched", report.Matched,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// integrateAll runs auto-integration for branches with bounded concurrency.
func (c *Controller) integrateAll(ctx context.Context, branches []domain.Branch, t *tally, trigger string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.sweep.Concurrency)
	for _, branch := range branches {
		g.Go(func() error {
			res, err := c.AutoIntegrateFeatureSetOnDemand(gctx, branch.ID)
			result := t.add(res, err)
			c.metrics.SweepBranch(result)
			if err != nil {
				c.logger.Warn("auto-integrate failed", "trigger", trigger, "branch_id", branch.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
