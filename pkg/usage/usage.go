// Package usage implements the usage and budget tracker: a SQLite-backed
// store of per-call token usage and cost, with period aggregations and a
// simple budget policy (warn/downgrade/block). It mirrors pkg/audit's
// SQLite conventions (WAL, busy timeout, schema_migrations) applied to a
// dedicated usage.db, and generalizes the teacher's pkg/cost.Tracker (which
// tracked only session/daily/monthly totals against a single storage
// backend) into the spec's richer per-model/provider/request-type
// aggregation with custom date ranges.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	agenterr "github.com/anzal1/unclaude/pkg/errors"
	_ "modernc.org/sqlite"
)

// Record is one LLM call's usage.
type Record struct {
	Timestamp        time.Time
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
	SessionID        string
	TaskID           string
	RequestType      string
}

// Pricing is a model's per-1K-token input/output cost.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// fallbackPricing is used for unknown models: $2 per 1M tokens blended.
var fallbackPricing = Pricing{InputPer1K: 0.002, OutputPer1K: 0.002}

// Period names a preset aggregation window.
type Period string

const (
	PeriodToday     Period = "today"
	PeriodYesterday Period = "yesterday"
	PeriodWeek      Period = "week"
	PeriodMonth     Period = "month"
	PeriodAll       Period = "all"
)

// Aggregate summarizes usage over a window.
type Aggregate struct {
	TotalRequests         int
	TotalPromptTokens     int
	TotalCompletionTokens int
	TotalTokens           int
	TotalCostUSD          float64
	ModelsUsed            []string
	ProvidersUsed         []string
	AvgTokensPerRequest   float64
	AvgCostPerRequest     float64
}

// BudgetAction names what happens when spend exceeds the configured limit.
type BudgetAction string

const (
	ActionWarn      BudgetAction = "warn"
	ActionDowngrade BudgetAction = "downgrade"
	ActionBlock     BudgetAction = "block"
)

// BudgetPeriod names the window a budget limit applies over.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetWeekly  BudgetPeriod = "weekly"
	BudgetMonthly BudgetPeriod = "monthly"
	BudgetTotal   BudgetPeriod = "total"
)

// Budget is the active budget policy, or the zero value if unset.
type Budget struct {
	Set          bool
	LimitUSD     float64
	Period       BudgetPeriod
	SoftLimitPct float64
	Action       BudgetAction
}

// BudgetStatus is the result of checking committed spend against Budget.
type BudgetStatus struct {
	WithinBudget bool
	SoftWarning  bool
	CurrentSpend float64
	Limit        float64
	Remaining    float64
	Percentage   float64
	Action       BudgetAction
	BudgetSet    bool
}

// Tracker is the persistent usage and budget store.
type Tracker struct {
	db *sql.DB

	mu      sync.RWMutex
	pricing map[string]Pricing
	budget  Budget
}

// Open creates or opens the usage database at <stateDir>/usage.db.
func Open(stateDir string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "create usage state dir")
	}
	path := filepath.Join(stateDir, "usage.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "open usage db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, fmt.Sprintf("pragma %q", pragma))
		}
	}
	if err := migrate(db); err != nil {
		return nil, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "migrate usage db")
	}
	return &Tracker{db: db, pricing: make(map[string]Pricing)}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp REAL NOT NULL,
	model TEXT NOT NULL,
	provider TEXT,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	session_id TEXT,
	task_id TEXT,
	request_type TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_session_id ON usage_records(session_id);
`)
	return err
}

// Close closes the underlying database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// SetPricing registers a model's per-1K-token pricing.
func (t *Tracker) SetPricing(modelID string, p Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[modelID] = p
}

// EstimateCost computes the dollar cost of a call, using registered
// pricing or the conservative fallback for unknown models.
func (t *Tracker) EstimateCost(modelID string, promptTokens, completionTokens int) float64 {
	t.mu.RLock()
	p, ok := t.pricing[modelID]
	t.mu.RUnlock()
	if !ok {
		p = fallbackPricing
	}
	return float64(promptTokens)/1000.0*p.InputPer1K + float64(completionTokens)/1000.0*p.OutputPer1K
}

// Record stamps timestamp=now (if unset), computes cost if not already
// set, and inserts the usage record.
func (t *Tracker) Record(r Record) (Record, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}
	if r.CostUSD == 0 {
		r.CostUSD = t.EstimateCost(r.Model, r.PromptTokens, r.CompletionTokens)
	}
	_, err := t.db.Exec(`
INSERT INTO usage_records (timestamp, model, provider, prompt_tokens, completion_tokens, total_tokens, cost_usd, session_id, task_id, request_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		float64(r.Timestamp.UnixNano())/1e9, r.Model, r.Provider, r.PromptTokens, r.CompletionTokens,
		r.TotalTokens, r.CostUSD, r.SessionID, r.TaskID, r.RequestType)
	if err != nil {
		return r, agenterr.Wrap(err, agenterr.ErrCodeStorageWrite, "insert usage record")
	}
	return r, nil
}

// Aggregate computes totals over a preset period.
func (t *Tracker) Aggregate(period Period) (Aggregate, error) {
	start, end := windowFor(period, time.Now())
	return t.AggregateRange(start, end)
}

func windowFor(period Period, now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch period {
	case PeriodToday:
		return today, today.Add(24 * time.Hour)
	case PeriodYesterday:
		return today.Add(-24 * time.Hour), today
	case PeriodWeek:
		return today.Add(-7 * 24 * time.Hour), today.Add(24 * time.Hour)
	case PeriodMonth:
		return today.AddDate(0, -1, 0), today.Add(24 * time.Hour)
	default: // all
		return time.Unix(0, 0), now.Add(24 * time.Hour)
	}
}

// AggregateRange computes totals over a custom [start, end) range.
func (t *Tracker) AggregateRange(start, end time.Time) (Aggregate, error) {
	rows, err := t.db.Query(
		`SELECT model, provider, prompt_tokens, completion_tokens, total_tokens, cost_usd
		 FROM usage_records WHERE timestamp >= ? AND timestamp < ?`,
		float64(start.UnixNano())/1e9, float64(end.UnixNano())/1e9)
	if err != nil {
		return Aggregate{}, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "query usage records")
	}
	defer rows.Close()

	var agg Aggregate
	models := map[string]bool{}
	providers := map[string]bool{}
	for rows.Next() {
		var model, provider sql.NullString
		var prompt, completion, total int
		var cost float64
		if err := rows.Scan(&model, &provider, &prompt, &completion, &total, &cost); err != nil {
			return Aggregate{}, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "scan usage record")
		}
		agg.TotalRequests++
		agg.TotalPromptTokens += prompt
		agg.TotalCompletionTokens += completion
		agg.TotalTokens += total
		agg.TotalCostUSD += cost
		if model.Valid && model.String != "" {
			models[model.String] = true
		}
		if provider.Valid && provider.String != "" {
			providers[provider.String] = true
		}
	}
	if err := rows.Err(); err != nil {
		return Aggregate{}, agenterr.Wrap(err, agenterr.ErrCodeStorageRead, "iterate usage records")
	}
	for m := range models {
		agg.ModelsUsed = append(agg.ModelsUsed, m)
	}
	for p := range providers {
		agg.ProvidersUsed = append(agg.ProvidersUsed, p)
	}
	if agg.TotalRequests > 0 {
		agg.AvgTokensPerRequest = float64(agg.TotalTokens) / float64(agg.TotalRequests)
		agg.AvgCostPerRequest = agg.TotalCostUSD / float64(agg.TotalRequests)
	}
	return agg, nil
}

// SetBudget installs a budget policy; zero LimitUSD means unconstrained.
func (t *Tracker) SetBudget(limitUSD float64, period BudgetPeriod, action BudgetAction, softLimitPct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budget = Budget{Set: true, LimitUSD: limitUSD, Period: period, Action: action, SoftLimitPct: softLimitPct}
}

// GetBudget returns the active budget policy.
func (t *Tracker) GetBudget() Budget {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.budget
}

// CheckBudget checks the *committed* spend for the budget's period against
// its limit (never an in-flight estimate, per the tracker's correctness
// contract), returning the action to take if exceeded.
func (t *Tracker) CheckBudget() (BudgetStatus, error) {
	t.mu.RLock()
	b := t.budget
	t.mu.RUnlock()

	if !b.Set || b.LimitUSD <= 0 {
		return BudgetStatus{WithinBudget: true, BudgetSet: false}, nil
	}

	period := periodFor(b.Period)
	agg, err := t.Aggregate(period)
	if err != nil {
		return BudgetStatus{}, err
	}
	pct := 0.0
	if b.LimitUSD > 0 {
		pct = agg.TotalCostUSD / b.LimitUSD
	}
	status := BudgetStatus{
		CurrentSpend: agg.TotalCostUSD,
		Limit:        b.LimitUSD,
		Remaining:    b.LimitUSD - agg.TotalCostUSD,
		Percentage:   pct,
		BudgetSet:    true,
	}
	status.WithinBudget = agg.TotalCostUSD < b.LimitUSD
	if !status.WithinBudget {
		status.Action = b.Action
	} else if b.SoftLimitPct > 0 && pct >= b.SoftLimitPct {
		status.SoftWarning = true
	}
	return status, nil
}

func periodFor(b BudgetPeriod) Period {
	switch b {
	case BudgetDaily:
		return PeriodToday
	case BudgetWeekly:
		return PeriodWeek
	case BudgetMonthly:
		return PeriodMonth
	default:
		return PeriodAll
	}
}
