package usage

import "testing"

func TestEstimateCostUsesRegisteredPricing(t *testing.T) {
	tr, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close()

	tr.SetPricing("test-model", Pricing{InputPer1K: 1.0, OutputPer1K: 2.0})
	got := tr.EstimateCost("test-model", 1000, 500)
	want := 1.0 + 1.0
	if got != want {
		t.Fatalf("EstimateCost() = %f, want %f", got, want)
	}
}

func TestEstimateCostFallsBackForUnknownModel(t *testing.T) {
	tr, _ := Open(t.TempDir())
	defer tr.Close()
	got := tr.EstimateCost("never-registered", 1000, 1000)
	want := fallbackPricing.InputPer1K + fallbackPricing.OutputPer1K
	if got != want {
		t.Fatalf("EstimateCost() = %f, want %f", got, want)
	}
}

func TestRecordRoundTripsThroughAggregate(t *testing.T) {
	tr, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer tr.Close()

	if _, err := tr.Record(Record{Model: "m1", Provider: "p1", PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.01}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, err := tr.Record(Record{Model: "m2", Provider: "p2", PromptTokens: 200, CompletionTokens: 100, CostUSD: 0.02}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	agg, err := tr.Aggregate(PeriodAll)
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if agg.TotalRequests != 2 {
		t.Fatalf("expected 2 requests, got %d", agg.TotalRequests)
	}
	if agg.TotalCostUSD != 0.03 {
		t.Errorf("expected total cost 0.03, got %f", agg.TotalCostUSD)
	}
	if agg.TotalTokens != 450 {
		t.Errorf("expected total tokens 450, got %d", agg.TotalTokens)
	}
	if len(agg.ModelsUsed) != 2 {
		t.Errorf("expected 2 distinct models used, got %v", agg.ModelsUsed)
	}
}

func TestRecordDefaultsTotalTokensAndCost(t *testing.T) {
	tr, _ := Open(t.TempDir())
	defer tr.Close()

	tr.SetPricing("auto-cost", Pricing{InputPer1K: 1.0, OutputPer1K: 1.0})
	rec, err := tr.Record(Record{Model: "auto-cost", PromptTokens: 1000, CompletionTokens: 1000})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if rec.TotalTokens != 2000 {
		t.Errorf("expected total_tokens to default to prompt+completion, got %d", rec.TotalTokens)
	}
	if rec.CostUSD != 2.0 {
		t.Errorf("expected cost to be computed from registered pricing, got %f", rec.CostUSD)
	}
}

func TestCheckBudgetUnsetIsAlwaysWithinBudget(t *testing.T) {
	tr, _ := Open(t.TempDir())
	defer tr.Close()

	status, err := tr.CheckBudget()
	if err != nil {
		t.Fatalf("CheckBudget() error = %v", err)
	}
	if !status.WithinBudget || status.BudgetSet {
		t.Fatalf("expected an unset budget to always report within-budget, got %+v", status)
	}
}

func TestCheckBudgetBlocksOnCommittedSpendOnly(t *testing.T) {
	tr, _ := Open(t.TempDir())
	defer tr.Close()

	tr.SetBudget(0.05, BudgetTotal, ActionBlock, 0.8)
	tr.Record(Record{Model: "m1", CostUSD: 0.10})

	status, err := tr.CheckBudget()
	if err != nil {
		t.Fatalf("CheckBudget() error = %v", err)
	}
	if status.WithinBudget {
		t.Fatalf("expected committed spend exceeding the limit to report over-budget")
	}
	if status.Action != ActionBlock {
		t.Errorf("expected action 'block', got %q", status.Action)
	}
}

func TestCheckBudgetSoftWarningBelowLimit(t *testing.T) {
	tr, _ := Open(t.TempDir())
	defer tr.Close()

	tr.SetBudget(1.0, BudgetTotal, ActionWarn, 0.5)
	tr.Record(Record{Model: "m1", CostUSD: 0.6})

	status, err := tr.CheckBudget()
	if err != nil {
		t.Fatalf("CheckBudget() error = %v", err)
	}
	if !status.WithinBudget {
		t.Fatalf("expected spend below the hard limit to remain within budget")
	}
	if !status.SoftWarning {
		t.Errorf("expected a soft warning once spend crosses the soft-limit percentage")
	}
}
