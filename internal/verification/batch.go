package verification

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/certifychain/server/internal/apperr"
	"github.com/certifychain/server/internal/model"
)

const (
	// MaxBatchSize is the largest accepted batch.
	MaxBatchSize = 50

	batchConcurrency = 8
)

// Summary counts batch outcomes. Failed is everything that is not valid.
type Summary struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

// BatchResult holds per-identifier outcomes in request order.
type BatchResult struct {
	Results []Outcome
	Summary Summary
}

// VerifyBatch computes results for up to MaxBatchSize identifiers. It is a
// bulk status check: nothing is written to the audit log and no counters move.
func (e *Engine) VerifyBatch(ctx context.Context, ids []model.Identifier) (BatchResult, error) {
	if len(ids) == 0 {
		return BatchResult{}, apperr.Validation(apperr.Field("identifiers", "at least one identifier is required"))
	}
	if len(ids) > MaxBatchSize {
		return BatchResult{}, apperr.Validation(apperr.Field("identifiers", fmt.Sprintf("at most %d identifiers are allowed", MaxBatchSize)))
	}
	var v apperr.Collector
	for i, id := range ids {
		if err := id.Validate(); err != nil {
			v.Add(fmt.Sprintf("identifiers[%d]", i), err.Error())
		}
	}
	if err := v.Err(); err != nil {
		return BatchResult{}, err
	}

	now := e.now()
	results := make([]Outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			cred, err := e.resolve(gctx, id)
			if err != nil {
				return err
			}
			out := Outcome{Identifier: id, Result: Evaluate(cred, now), Credential: cred}
			if cred != nil {
				cred.Status = cred.EffectiveStatus(now)
				out.Institution = e.institution(gctx, *cred)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	summary := Summary{Total: len(results)}
	for _, r := range results {
		if r.Verified() {
			summary.Verified++
		} else {
			summary.Failed++
		}
	}
	e.metrics.BatchVerifications.Inc()
	e.metrics.BatchItems.Observe(float64(len(ids)))
	return BatchResult{Results: results, Summary: summary}, nil
}
