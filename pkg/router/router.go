// Package router implements the smart model router: a weighted heuristic
// classifier that scores an incoming request across several dimensions,
// assigns it to a complexity tier, and resolves that tier to a concrete
// model plus fallbacks under a routing profile. It is grounded on the
// teacher's pkg/rlm.ModelSelector (single-model resolution with a
// provider-supplied fallback) and pkg/model's ModelInfo/ModelPricing
// shapes, generalized from "pick the configured sub-agent model" to "score
// the request and pick a tier-appropriate model."
package router

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Tier is a request complexity classification.
type Tier string

const (
	TierSimple    Tier = "simple"
	TierMedium    Tier = "medium"
	TierComplex   Tier = "complex"
	TierReasoning Tier = "reasoning"
)

// Profile selects the model-resolution policy applied once a tier is known.
type Profile string

const (
	ProfileAuto    Profile = "auto"
	ProfileEco     Profile = "eco"
	ProfilePremium Profile = "premium"
	ProfileFree    Profile = "free"
)

// ModelSpec describes one routable model.
type ModelSpec struct {
	ID         string
	Provider   string
	Tier       Tier
	CostPer1K  float64 // blended input+output estimate, per 1K tokens
	Free       bool
	Local      bool
}

// Weights controls the heuristic score's dimension contributions. The
// zero-value Weights is invalid; use DefaultWeights.
type Weights struct {
	Length      float64
	Code        float64
	Reasoning   float64
	Agentic     float64
	Math        float64
	Depth       float64
	Simplicity  float64
}

// DefaultWeights matches the fixed weighting scheme: length 0.10, code
// 0.20, reasoning 0.25, agentic 0.20, math 0.10, depth 0.05, simplicity 0.10.
var DefaultWeights = Weights{
	Length: 0.10, Code: 0.20, Reasoning: 0.25, Agentic: 0.20,
	Math: 0.10, Depth: 0.05, Simplicity: 0.10,
}

var (
	codeMarkerRe      = regexp.MustCompile("(?i)```|func |class |def |import |SELECT |package ")
	reasoningMarkerRe = regexp.MustCompile("(?i)\\b(why|prove|derive|step by step|reasoning|analyze|compare and contrast)\\b")
	agenticMarkerRe   = regexp.MustCompile("(?i)\\b(then|after that|run|execute|search for|fetch|install|deploy)\\b")
	mathMarkerRe      = regexp.MustCompile("(?i)\\b(integral|derivative|equation|theorem|matrix|probability)\\b|[0-9]\\s*[\\+\\-\\*/\\^]\\s*[0-9]")
	simplicityRe      = regexp.MustCompile("(?i)^(hi|hello|hey|thanks|thank you|ok|okay|yes|no)\\b")
)

// Request is the classifiable unit: the latest user text plus lightweight
// conversation context. Only features derivable from these fields are
// scored, matching the heuristic's stated seven dimensions.
type Request struct {
	Text             string
	ConversationID   string
	ConversationDepth int // number of prior turns
}

// Score holds the per-dimension feature values, each normalized to [0,1]
// (or bool-as-0/1 for Simplicity), before weighting.
type Score struct {
	Length     float64
	Code       float64
	Reasoning  float64
	Agentic    float64
	Math       float64
	Depth      float64
	Simplicity float64
}

func scoreRequest(req Request) Score {
	lengthFrac := clamp01(float64(len(req.Text)) / 2000.0)
	depthFrac := clamp01(float64(req.ConversationDepth) / 20.0)

	code := boolTo01(codeMarkerRe.MatchString(req.Text))
	reasoning := boolTo01(reasoningMarkerRe.MatchString(req.Text))
	agentic := boolTo01(agenticMarkerRe.MatchString(req.Text))
	math := boolTo01(mathMarkerRe.MatchString(req.Text))
	simple := boolTo01(simplicityRe.MatchString(strings.TrimSpace(req.Text)) && len(req.Text) < 80)

	return Score{
		Length: lengthFrac, Code: code, Reasoning: reasoning,
		Agentic: agentic, Math: math, Depth: depthFrac, Simplicity: simple,
	}
}

func weightedSum(s Score, w Weights) float64 {
	return s.Length*w.Length + s.Code*w.Code + s.Reasoning*w.Reasoning +
		s.Agentic*w.Agentic + s.Math*w.Math + s.Depth*w.Depth + s.Simplicity*w.Simplicity
}

// Classification is the result of classifying one request.
type Classification struct {
	Tier       Tier
	Confidence float64
	Score      Score
	WeightedSum float64
}

// Classify applies the hard-rule overrides first (reasoning-score > 0.8,
// simplicity > 0.5, math > 0.5), then falls back to the weighted-sum
// thresholds (0.15 / 0.35 / 0.55) against simple/medium/complex/reasoning.
func Classify(req Request, w Weights) Classification {
	s := scoreRequest(req)
	switch {
	case s.Reasoning > 0.8:
		return Classification{Tier: TierReasoning, Confidence: 0.97, Score: s}
	case s.Simplicity > 0.5:
		return Classification{Tier: TierSimple, Confidence: 0.95, Score: s}
	case s.Math > 0.5:
		return Classification{Tier: TierReasoning, Confidence: 0.90, Score: s}
	}

	sum := weightedSum(s, w)
	var tier Tier
	switch {
	case sum < 0.15:
		tier = TierSimple
	case sum < 0.35:
		tier = TierMedium
	case sum < 0.55:
		tier = TierComplex
	default:
		tier = TierReasoning
	}
	return Classification{Tier: tier, Confidence: confidenceFor(sum, tier), Score: s, WeightedSum: sum}
}

func confidenceFor(sum float64, tier Tier) float64 {
	// Distance from the nearest threshold, scaled into a confidence-ish
	// midpoint; callers only need this to rank alternatives, not calibrate.
	thresholds := []float64{0.15, 0.35, 0.55}
	best := 1.0
	for _, t := range thresholds {
		d := sum - t
		if d < 0 {
			d = -d
		}
		if d < best {
			best = d
		}
	}
	return clamp01(0.6 + best)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func boolTo01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Decision is what Router.Route returns: the chosen model, its tier,
// whether it came from a session pin, and fallbacks to try in order if the
// primary call fails.
type Decision struct {
	Model      ModelSpec
	Tier       Tier
	Fallbacks  []ModelSpec
	Pinned     bool
}

// Router resolves a classified request to a concrete model under a
// configured profile, honoring per-conversation model pinning.
type Router struct {
	mu               sync.RWMutex
	catalog          []ModelSpec
	profile          Profile
	preferredProvider string
	weights          Weights
	pins             map[string]string // conversation_id -> model_id
}

// New builds a Router over a model catalog.
func New(catalog []ModelSpec, profile Profile, preferredProvider string) *Router {
	if profile == "" {
		profile = ProfileAuto
	}
	return &Router{
		catalog: catalog, profile: profile, preferredProvider: preferredProvider,
		weights: DefaultWeights, pins: make(map[string]string),
	}
}

// SetWeights overrides the default scoring weights.
func (r *Router) SetWeights(w Weights) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights = w
}

// PinConversation binds a conversation to a fixed model, overriding
// classification for every subsequent Route call on that conversation.
func (r *Router) PinConversation(conversationID, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[conversationID] = modelID
}

// Route classifies req and resolves it to a model decision. A session
// pin always wins over classification, matching the open question's
// resolution that pinning takes precedence over budget downgrades too.
func (r *Router) Route(req Request) Decision {
	r.mu.RLock()
	pinned, isPinned := r.pins[req.ConversationID]
	profile := r.profile
	weights := r.weights
	catalog := r.catalog
	preferred := r.preferredProvider
	r.mu.RUnlock()

	if isPinned {
		for _, m := range catalog {
			if m.ID == pinned {
				return Decision{Model: m, Tier: m.Tier, Pinned: true}
			}
		}
	}

	cls := Classify(req, weights)
	return r.resolve(cls.Tier, profile, catalog, preferred)
}

// RouteWithProfile is Route but overrides the router's configured profile
// for this call only, used by the daemon's budget-downgrade path.
func (r *Router) RouteWithProfile(req Request, profile Profile) Decision {
	r.mu.RLock()
	pinned, isPinned := r.pins[req.ConversationID]
	weights := r.weights
	catalog := r.catalog
	preferred := r.preferredProvider
	r.mu.RUnlock()

	if isPinned {
		for _, m := range catalog {
			if m.ID == pinned {
				return Decision{Model: m, Tier: m.Tier, Pinned: true}
			}
		}
	}
	cls := Classify(req, weights)
	return r.resolve(cls.Tier, profile, catalog, preferred)
}

func (r *Router) resolve(tier Tier, profile Profile, catalog []ModelSpec, preferred string) Decision {
	var candidates []ModelSpec
	switch profile {
	case ProfileEco:
		candidates = cheapestAcrossAllTiers(catalog)
	case ProfilePremium:
		candidates = highestQuality(catalog, tier)
	case ProfileFree:
		candidates = freeModelsForTier(catalog, tier)
	default: // auto
		candidates = cheapestInTier(catalog, tier, preferred)
	}
	if len(candidates) == 0 {
		return Decision{Tier: tier}
	}
	fallbacks := candidates[1:]
	if len(fallbacks) > 2 {
		fallbacks = fallbacks[:2]
	}
	return Decision{Model: candidates[0], Tier: tier, Fallbacks: fallbacks}
}

func modelsInTier(catalog []ModelSpec, tier Tier) []ModelSpec {
	var out []ModelSpec
	for _, m := range catalog {
		if m.Tier == tier {
			out = append(out, m)
		}
	}
	return out
}

func cheapestInTier(catalog []ModelSpec, tier Tier, preferredProvider string) []ModelSpec {
	tierModels := modelsInTier(catalog, tier)
	sort.SliceStable(tierModels, func(i, j int) bool {
		pi := preferredProvider != "" && tierModels[i].Provider == preferredProvider
		pj := preferredProvider != "" && tierModels[j].Provider == preferredProvider
		if pi != pj {
			return pi
		}
		return tierModels[i].CostPer1K < tierModels[j].CostPer1K
	})
	return tierModels
}

func cheapestAcrossAllTiers(catalog []ModelSpec) []ModelSpec {
	all := append([]ModelSpec{}, catalog...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CostPer1K < all[j].CostPer1K })
	return all
}

func highestQuality(catalog []ModelSpec, tier Tier) []ModelSpec {
	tierModels := modelsInTier(catalog, tier)
	sort.SliceStable(tierModels, func(i, j int) bool { return tierModels[i].CostPer1K > tierModels[j].CostPer1K })
	return tierModels
}

func freeModelsForTier(catalog []ModelSpec, tier Tier) []ModelSpec {
	var out []ModelSpec
	for _, m := range catalog {
		if m.Tier == tier && (m.Free || m.Local) {
			out = append(out, m)
		}
	}
	return out
}
