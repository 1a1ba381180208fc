package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"go-callgraph-refine/callgraph"
)

// ErrBudgetExceeded is returned by Budget.Charge once a pass has used up
// its traversal budget.
var ErrBudgetExceeded = errors.New("refine: traversal budget exceeded")

// Budget counts the traversal steps of one pass.
type Budget struct {
	limit int
	used  int
}

func NewBudget(limit int) *Budget { return &Budget{limit: limit} }

// Charge records n steps and returns ErrBudgetExceeded once more than the
// limit has been used.
func (b *Budget) Charge(n int) error {
	b.used += n
	if b.used > b.limit {
		return ErrBudgetExceeded
	}
	return nil
}

func (b *Budget) Used() int  { return b.used }
func (b *Budget) Limit() int { return b.limit }

// Query runs one refinement pass. It reports whether the answer satisfies
// the client and returns ErrBudgetExceeded if the pass ran out of budget.
type Query func(ctx context.Context, pass int, budget *Budget) (satisfied bool, err error)

// Result classifies how a refinement loop ended.
type Result int

const (
	// Success means some pass satisfied the query.
	Success Result = iota
	// NoMoreRefine means a pass finished within budget but the policy
	// could not widen any further.
	NoMoreRefine
	// BudgetExceeded means no pass finished within its budget.
	BudgetExceeded
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case NoMoreRefine:
		return "no_more_refine"
	case BudgetExceeded:
		return "budget_exceeded"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Outcome reports the result of Run.
type Outcome struct {
	Result Result
	// Passes is the number of passes started.
	Passes int
	// Completed is the number of passes that finished within budget.
	Completed int
}

const tracerName = "go-callgraph-refine/refine"

// Run executes q once per pass of p, widening p between passes, until a
// pass satisfies the query, the policy stops widening, or the schedule
// ends.
func Run(ctx context.Context, p Policy, q Query) (Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "refine.Run")
	defer span.End()

	var out Outcome
	satisfied := false
	numPasses := p.NumPasses()
	pass := 0
	for ; pass < numPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%w: %w", callgraph.ErrCancelled, err)
		}
		out.Passes++
		passesTotal.Inc()
		budget := NewBudget(p.BudgetForPass(pass))
		ok, err := q(ctx, pass, budget)
		switch {
		case errors.Is(err, ErrBudgetExceeded):
			slog.Debug("refinement pass out of budget", "pass", pass, "budget", budget.Limit())
		case err != nil:
			span.RecordError(err)
			return out, err
		default:
			out.Completed++
			satisfied = ok
		}
		if satisfied || !p.NextPass() {
			break
		}
	}

	switch {
	case satisfied:
		out.Result = Success
	case pass < numPasses && out.Completed > 0:
		out.Result = NoMoreRefine
	default:
		out.Result = BudgetExceeded
	}
	outcomesTotal.WithLabelValues(out.Result.String()).Inc()
	span.SetAttributes(
		attribute.String("result", out.Result.String()),
		attribute.Int("passes", out.Passes))
	return out, nil
}
