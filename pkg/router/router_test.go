package router

import "testing"

func testCatalog() []ModelSpec {
	return []ModelSpec{
		{ID: "small-cheap", Provider: "openrouter", Tier: TierSimple, CostPer1K: 0.001},
		{ID: "small-pricey", Provider: "openai", Tier: TierSimple, CostPer1K: 0.01},
		{ID: "medium-cheap", Provider: "openrouter", Tier: TierMedium, CostPer1K: 0.005},
		{ID: "complex-model", Provider: "anthropic", Tier: TierComplex, CostPer1K: 0.02},
		{ID: "reasoning-model", Provider: "anthropic", Tier: TierReasoning, CostPer1K: 0.05},
		{ID: "free-simple", Provider: "local", Tier: TierSimple, CostPer1K: 0, Free: true},
	}
}

func TestClassifySimpleGreeting(t *testing.T) {
	c := Classify(Request{Text: "hi"}, DefaultWeights)
	if c.Tier != TierSimple {
		t.Fatalf("expected a short greeting to classify simple, got %s (score=%+v)", c.Tier, c.Score)
	}
}

func TestClassifyReasoningOverride(t *testing.T) {
	c := Classify(Request{Text: "Can you prove step by step why this algorithm terminates, and analyze the invariant?"}, DefaultWeights)
	if c.Tier != TierReasoning {
		t.Fatalf("expected a reasoning-heavy prompt to classify reasoning, got %s", c.Tier)
	}
}

func TestClassifyMathOverride(t *testing.T) {
	c := Classify(Request{Text: "Compute the derivative of this matrix equation and the probability theorem behind it."}, DefaultWeights)
	if c.Tier != TierReasoning {
		t.Fatalf("expected a math-heavy prompt to route to the reasoning tier, got %s", c.Tier)
	}
}

func TestRouteSelectsCheapestInTierForAutoProfile(t *testing.T) {
	r := New(testCatalog(), ProfileAuto, "")
	decision := r.Route(Request{Text: "hi"})
	if decision.Model.ID != "free-simple" {
		t.Fatalf("expected the cheapest simple-tier model, got %s", decision.Model.ID)
	}
}

func TestRouteEcoProfilePicksGlobalCheapest(t *testing.T) {
	r := New(testCatalog(), ProfileEco, "")
	decision := r.Route(Request{Text: "prove step by step why this works"})
	if decision.Model.CostPer1K != 0 {
		t.Fatalf("expected eco profile to ignore tier and pick the globally cheapest model, got %s at %f", decision.Model.ID, decision.Model.CostPer1K)
	}
}

func TestRoutePremiumProfilePicksMostExpensiveInTier(t *testing.T) {
	r := New(testCatalog(), ProfilePremium, "")
	decision := r.Route(Request{Text: "prove step by step"})
	if decision.Model.ID != "reasoning-model" {
		t.Fatalf("expected premium profile to pick the priciest reasoning-tier model, got %s", decision.Model.ID)
	}
}

func TestPinOverridesClassificationAndProfile(t *testing.T) {
	r := New(testCatalog(), ProfileEco, "")
	r.PinConversation("conv-1", "complex-model")

	decision := r.Route(Request{Text: "hi", ConversationID: "conv-1"})
	if !decision.Pinned || decision.Model.ID != "complex-model" {
		t.Fatalf("expected the pin to override both classification and profile, got %+v", decision)
	}
}

func TestPinOverridesBudgetDowngrade(t *testing.T) {
	r := New(testCatalog(), ProfilePremium, "")
	r.PinConversation("conv-1", "small-cheap")

	// RouteWithProfile simulates a budget-downgrade call forcing eco profile;
	// the pin must still win.
	decision := r.RouteWithProfile(Request{Text: "prove this", ConversationID: "conv-1"}, ProfileEco)
	if !decision.Pinned || decision.Model.ID != "small-cheap" {
		t.Fatalf("expected pin to override the downgraded profile, got %+v", decision)
	}
}

func TestRouteWithoutMatchingTierReturnsEmptyDecision(t *testing.T) {
	r := New(nil, ProfileAuto, "")
	decision := r.Route(Request{Text: "hi"})
	if decision.Model.ID != "" {
		t.Fatalf("expected an empty decision when no models exist, got %+v", decision)
	}
}

func TestFallbacksCappedAtTwo(t *testing.T) {
	catalog := []ModelSpec{
		{ID: "a", Tier: TierSimple, CostPer1K: 0.001},
		{ID: "b", Tier: TierSimple, CostPer1K: 0.002},
		{ID: "c", Tier: TierSimple, CostPer1K: 0.003},
		{ID: "d", Tier: TierSimple, CostPer1K: 0.004},
	}
	r := New(catalog, ProfileAuto, "")
	decision := r.Route(Request{Text: "hi"})
	if len(decision.Fallbacks) != 2 {
		t.Fatalf("expected fallbacks capped at 2, got %d", len(decision.Fallbacks))
	}
}
