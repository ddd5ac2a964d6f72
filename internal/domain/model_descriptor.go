package domain

// Provider identifies the backend SDK a model runs behind.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderXAI       Provider = "xai"
	ProviderStub      Provider = "stub"
)

// SkillProfile scores a model's fit for each TaskKind on a 0..1 scale.
// Missing kinds are treated as the registry's neutral prior.
type SkillProfile map[TaskKind]float64

// ModelDescriptor is the static, operator-configured half of a model's
// routing profile. It is loaded from the capability registry config and
// merged with a live TelemetryWindow at query time — never cached past a
// single routing decision.
type ModelDescriptor struct {
	ModelID           string       `yaml:"model_id"`
	ProviderID        Provider     `yaml:"provider_id"`
	DisplayName       string       `yaml:"display_name"`
	Skills            SkillProfile `yaml:"skills"`
	ContextWindow     int          `yaml:"context_window"`
	SupportedFeatures []Feature    `yaml:"supported_features"`
	CostPer1kInput    float64      `yaml:"cost_per_1k_input"`
	CostPer1kOutput   float64      `yaml:"cost_per_1k_output"`
	WeightOverride    *float64     `yaml:"weight_override"`
	Disabled          bool         `yaml:"disabled"`
}

// HasFeature reports whether the descriptor advertises a feature.
func (m ModelDescriptor) HasFeature(f Feature) bool {
	for _, have := range m.SupportedFeatures {
		if have == f {
			return true
		}
	}
	return false
}

// SkillFor returns the descriptor's configured skill score for kind, or
// the supplied neutral prior when the kind isn't configured.
func (m ModelDescriptor) SkillFor(kind TaskKind, neutralPrior float64) float64 {
	if s, ok := m.Skills[kind]; ok {
		return s
	}
	return neutralPrior
}

// TelemetryWindow is the live, rolling-window half of a model's routing
// profile: outcomes observed over the last 24h, Laplace-smoothed. The
// window is logical — samples older than 24h are excluded on read, not
// eagerly evicted.
type TelemetryWindow struct {
	ModelID        string
	Attempts       int64
	Successes      int64
	Errors         int64
	TotalLatencyMS int64
	TokensIn       int64
	TokensOut      int64
	CostTotal      float64
}

// SuccessRate returns the Laplace-smoothed success rate: (s+1)/(attempts+2).
// With zero samples this evaluates to 0.5; the Registry overrides that
// with a neutral 1.0 when a model has no samples at all, to avoid
// penalizing unseen models during bring-up.
func (w TelemetryWindow) SuccessRate() float64 {
	return float64(w.Successes+1) / float64(w.Attempts+2)
}

// MeanLatencyMS returns the mean observed latency, or 0 with no samples.
func (w TelemetryWindow) MeanLatencyMS() float64 {
	if w.Attempts == 0 {
		return 0
	}
	return float64(w.TotalLatencyMS) / float64(w.Attempts)
}

// Candidate is a ModelDescriptor merged with its current TelemetryWindow,
// the unit the Router scores. NeutralPrior is set when Telemetry has
// literally zero samples for this model — the Registry substitutes a
// success rate of 1.0 in that case rather than the Laplace-smoothed 0.5
// a freshly-zeroed window would otherwise imply, and the Router
// substitutes the median latency of sampled candidates for lat_norm.
type Candidate struct {
	Descriptor   ModelDescriptor
	Telemetry    TelemetryWindow
	NeutralPrior bool
}

// EffectiveSuccessRate returns 1.0 under the neutral prior, otherwise
// the window's Laplace-smoothed success rate.
func (c Candidate) EffectiveSuccessRate() float64 {
	if c.NeutralPrior {
		return 1.0
	}
	return c.Telemetry.SuccessRate()
}
