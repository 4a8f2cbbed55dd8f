package pipeline

import (
	"context"
	"fmt"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps sequentially until one fails or sets state.Done.
func (p *Pipeline) Execute(ctx context.Context, state *ImportState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		if state.Done {
			return nil
		}
	}
	return nil
}

// ComputeWindow returns the inclusive range [min, max] of the non-null dates
// in column. ok is false when the column holds no dates. Datetime values are
// truncated to their calendar date.
func ComputeWindow(f *frame.Frame, column string) (w bq.Window, ok bool, err error) {
	col, found := f.Column(column)
	if !found {
		return bq.Window{}, false, fmt.Errorf("ComputeWindow: column %q not found", column)
	}
	if col.DType().Kind == frame.KindDatetime {
		if col, err = col.Cast(frame.Date); err != nil {
			return bq.Window{}, false, fmt.Errorf("ComputeWindow: %w", err)
		}
	}
	start, ok, err := col.MinDate()
	if err != nil {
		return bq.Window{}, false, fmt.Errorf("ComputeWindow: %w", err)
	}
	if !ok {
		return bq.Window{}, false, nil
	}
	end, _, err := col.MaxDate()
	if err != nil {
		return bq.Window{}, false, fmt.Errorf("ComputeWindow: %w", err)
	}
	return bq.Window{Start: start, End: end}, true, nil
}
