package backtester

import "time"

// BacktestRequest asks for one backtest. Dates are YYYY-MM-DD. Params
// overrides the strategy's defaults by name (see Strategies); unknown
// names are rejected. Zero InitialCash and nil Commission take the
// server's defaults.
type BacktestRequest struct {
	Symbol      string         `json:"symbol"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Strategy    string         `json:"strategy"`
	Params      map[string]any `json:"params,omitempty"`
	InitialCash float64        `json:"initial_cash,omitempty"`
	Commission  *float64       `json:"commission,omitempty"`
}

// BatchRequest runs one strategy configuration over many symbols.
type BatchRequest struct {
	Symbols     []string       `json:"symbols"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Strategy    string         `json:"strategy"`
	Params      map[string]any `json:"params,omitempty"`
	InitialCash float64        `json:"initial_cash,omitempty"`
	Commission  *float64       `json:"commission,omitempty"`
}

// OptimizeRequest grid-searches strategy parameters for one symbol. Grid
// maps a parameter name to the values to try; parameters not in Grid keep
// the value from Params. An empty Grid uses the strategy's default grid.
type OptimizeRequest struct {
	Symbol      string               `json:"symbol"`
	Start       string               `json:"start"`
	End         string               `json:"end"`
	Strategy    string               `json:"strategy"`
	Params      map[string]any       `json:"params,omitempty"`
	Grid        map[string][]float64 `json:"grid,omitempty"`
	InitialCash float64              `json:"initial_cash,omitempty"`
	Commission  *float64             `json:"commission,omitempty"`
}

// Metrics are the headline statistics of a run. Nil means undefined.
type Metrics struct {
	Sharpe           *float64 `json:"sharpe"`
	Calmar           *float64 `json:"calmar"`
	CAGR             *float64 `json:"cagr"`
	MaxDrawdown      *float64 `json:"max_drawdown"`
	CumulativeReturn *float64 `json:"cumulative_return"`
	Volatility       *float64 `json:"volatility"`
	Periods          int      `json:"periods"`
}

// Point is one dated value of a series.
type Point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// Fill is one executed simulated order.
type Fill struct {
	Date       string  `json:"date"`
	Side       string  `json:"side"`
	Price      float64 `json:"price"`
	Qty        int64   `json:"qty"`
	Commission float64 `json:"commission"`
}

// BacktestResult is the outcome of one backtest. Error is set when the run
// failed, in which case Metrics are undefined.
type BacktestResult struct {
	ID          string         `json:"id"`
	Symbol      string         `json:"symbol"`
	Strategy    string         `json:"strategy"`
	Params      map[string]any `json:"params"`
	Start       string         `json:"start"`
	End         string         `json:"end"`
	Metrics     Metrics        `json:"metrics"`
	FinalEquity float64        `json:"final_equity"`
	Fills       []Fill         `json:"fills"`
	Equity      []Point        `json:"equity"`
	Returns     []Point        `json:"returns"`
	Error       string         `json:"error,omitempty"`
}

// Row is one line of a ranked table.
type Row struct {
	Rank             int            `json:"rank"`
	RunID            string         `json:"run_id,omitempty"`
	Symbol           string         `json:"symbol"`
	Strategy         string         `json:"strategy"`
	Key              string         `json:"key"`
	Params           map[string]any `json:"params,omitempty"`
	Sharpe           *float64       `json:"sharpe"`
	Calmar           *float64       `json:"calmar"`
	CAGR             *float64       `json:"cagr"`
	MaxDrawdown      *float64       `json:"max_drawdown"`
	CumulativeReturn *float64       `json:"cumulative_return"`
	Trades           int            `json:"trades"`
	Error            string         `json:"error,omitempty"`
}

// BatchResult ranks the symbols of a batch, failures included.
type BatchResult struct {
	Strategy  string         `json:"strategy"`
	Params    map[string]any `json:"params"`
	Start     string         `json:"start"`
	End       string         `json:"end"`
	Rows      []Row          `json:"rows"`
	Failed    int            `json:"failed"`
	ElapsedMS int64          `json:"elapsed_ms"`
}

// Heatmap holds the best Sharpe per pair of grid values. Cells is indexed
// [y][x]; nil cells are undefined.
type Heatmap struct {
	X      string       `json:"x"`
	Y      string       `json:"y"`
	XTicks []string     `json:"x_ticks"`
	YTicks []string     `json:"y_ticks"`
	Cells  [][]*float64 `json:"cells"`
}

// OptimizeResult ranks every parameter combination of a grid search. Best
// is nil, and Error set, when no combination produced a Sharpe ratio.
type OptimizeResult struct {
	Symbol    string   `json:"symbol"`
	Strategy  string   `json:"strategy"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Rows      []Row    `json:"rows"`
	Best      *Row     `json:"best,omitempty"`
	Heatmap   *Heatmap `json:"heatmap,omitempty"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
}

// RunSummary is a persisted backtest summary.
type RunSummary struct {
	ID               string         `json:"id"`
	Mode             string         `json:"mode"`
	Symbol           string         `json:"symbol"`
	Strategy         string         `json:"strategy"`
	Params           map[string]any `json:"params,omitempty"`
	Start            string         `json:"start"`
	End              string         `json:"end"`
	Sharpe           *float64       `json:"sharpe"`
	Calmar           *float64       `json:"calmar"`
	CAGR             *float64       `json:"cagr"`
	MaxDrawdown      *float64       `json:"max_drawdown"`
	CumulativeReturn *float64       `json:"cumulative_return"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// StrategyInfo describes an available strategy.
type StrategyInfo struct {
	Kind        string         `json:"kind"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Defaults    map[string]any `json:"defaults"`
	GridAxes    []string       `json:"grid_axes"`
}

// Progress reports one finished run of a batch or grid search.
type Progress struct {
	Done   int    `json:"done"`
	Total  int    `json:"total"`
	Symbol string `json:"symbol"`
	Key    string `json:"key,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Stream message types.
const (
	MessageProgress = "progress"
	MessageResult   = "result"
	MessageError    = "error"
)

// StreamMessage is one frame of the batch progress stream: progress
// updates followed by exactly one result or error frame.
type StreamMessage struct {
	Type     string       `json:"type"`
	Progress *Progress    `json:"progress,omitempty"`
	Batch    *BatchResult `json:"batch,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
