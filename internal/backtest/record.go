package backtest

import (
	"context"
	"encoding/json"
	"time"

	"backtester/internal/store"
)

// RunRecorder persists run summaries. store.SQLiteStore implements it.
type RunRecorder interface {
	SaveRun(ctx context.Context, r store.RunRecord) error
}

// RecordOf converts a result into its persisted summary.
func RecordOf(res *Result) store.RunRecord {
	rec := store.RunRecord{
		ID:               res.ID,
		Mode:             string(res.Mode),
		Symbol:           res.Symbol,
		Strategy:         string(res.Strategy),
		Params:           "{}",
		Start:            res.Start,
		End:              res.End,
		Sharpe:           res.Summary.Sharpe,
		Calmar:           res.Summary.Calmar,
		CAGR:             res.Summary.CAGR,
		MaxDrawdown:      res.Summary.MaxDrawdown,
		CumulativeReturn: res.Summary.CumulativeReturn,
		CreatedAt:        time.Now().UTC(),
	}
	if res.Params != nil {
		if b, err := json.Marshal(res.Params.Values()); err == nil {
			rec.Params = string(b)
		}
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	return rec
}

func (r *Runner) record(ctx context.Context, res *Result) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.SaveRun(context.WithoutCancel(ctx), RecordOf(res)); err != nil {
		r.log.Warn("saving run failed", "run", res.ID, "symbol", res.Symbol, "err", err)
	}
}
