package worldgen

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/MrWong99/loreforge/internal/observe"
)

// BatchOperation is one generation in a batch. An empty ID is replaced by a
// generated one.
type BatchOperation struct {
	ID      string         `json:"id,omitempty" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Request map[string]any `json:"request" yaml:"request"`
}

// BatchResult is the outcome of one [BatchOperation].
type BatchResult struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GenerateBatch runs ops one after another in input order and returns
// exactly one result per operation. A failing operation never affects the
// others. progress, if non-nil, receives the completed percentage after
// each operation. Once ctx is done the remaining operations fail without
// being attempted.
func (o *Orchestrator) GenerateBatch(ctx context.Context, ops []BatchOperation, progress func(percent int)) []BatchResult {
	results := make([]BatchResult, len(ops))
	for i, op := range ops {
		if op.ID == "" {
			op.ID = "op_" + uuid.NewString()
		}
		if err := ctx.Err(); err != nil {
			results[i] = BatchResult{ID: op.ID, Type: op.Type, Error: "batch cancelled"}
		} else {
			results[i] = o.runBatchOp(ctx, op)
		}
		if progress != nil {
			progress(int(math.Round(float64(i+1) * 100 / float64(len(ops)))))
		}
	}
	return results
}

func (o *Orchestrator) runBatchOp(ctx context.Context, op BatchOperation) (res BatchResult) {
	res = BatchResult{ID: op.ID, Type: op.Type}
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("worldgen: batch operation panicked", "id", op.ID, "type", op.Type, "panic", r)
			res = BatchResult{ID: op.ID, Type: op.Type, Error: "unexpected error"}
		}
	}()

	kind, err := ParseContentType(op.Type)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	resp, err := o.GenerateRaw(ctx, kind, op.Request)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = resp.Success
	res.Error = resp.Error
	if resp.Data != nil {
		res.Data = *resp.Data
	}
	return res
}

// BatchErrors joins the failures in results into one error, or returns nil
// when every operation succeeded.
func BatchErrors(results []BatchResult) error {
	var errs []error
	for _, r := range results {
		if !r.Success {
			errs = append(errs, fmt.Errorf("%s %s: %s", r.Type, r.ID, r.Error))
		}
	}
	return errors.Join(errs...)
}

// BatchSummary counts the successes in results.
func BatchSummary(results []BatchResult) string {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d operations succeeded", ok, len(results))
}
