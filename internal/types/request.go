package types

import "time"

// CachePolicy controls how a GenerationRequest interacts with the response cache.
type CachePolicy string

const (
	CacheUse     CachePolicy = "use"
	CacheBypass  CachePolicy = "bypass"
	CacheRefresh CachePolicy = "refresh"
)

// GenerationRequest is the canonical internal representation of a single
// generation call. It is immutable once admitted into the pipeline.
type GenerationRequest struct {
	// Identity (set by admission)
	RequestID string `json:"request_id,omitempty"`
	APIKeyID  string `json:"-"`

	Model          string       `json:"model"`
	Prompt         string       `json:"prompt"`
	Temperature    *float64     `json:"temperature,omitempty"`
	MaxTokens      *int         `json:"max_tokens,omitempty"`
	TopP           *float64     `json:"top_p,omitempty"`
	TopK           *int         `json:"top_k,omitempty"`
	RepeatPenalty  *float64     `json:"repeat_penalty,omitempty"`
	Stop           []string     `json:"stop,omitempty"`
	Seed           *int64       `json:"seed,omitempty"`
	AgentProfile   *AgentProfile `json:"agent_profile,omitempty"`
	CachePolicy    CachePolicy  `json:"cache_policy,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// Defaults mirrors the server-enforced defaults named in the configuration
// section; the pipeline applies these (WithDefaults) before fingerprinting
// or anything else touches the request. The fingerprinter itself does not
// apply them.
const (
	DefaultTemperature   = 0.7
	DefaultMaxTokens     = 200
	MaxTokensCeiling     = 2000
	DefaultTopP          = 0.9
	DefaultTopK          = 40
	DefaultRepeatPenalty = 1.0
)

// WithDefaults returns a copy of r with unset decoding controls filled in.
// It never mutates r.
func (r GenerationRequest) WithDefaults() GenerationRequest {
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.MaxTokens == nil {
		m := DefaultMaxTokens
		r.MaxTokens = &m
	}
	if r.TopP == nil {
		p := DefaultTopP
		r.TopP = &p
	}
	if r.TopK == nil {
		k := DefaultTopK
		r.TopK = &k
	}
	if r.RepeatPenalty == nil {
		p := DefaultRepeatPenalty
		r.RepeatPenalty = &p
	}
	if r.CachePolicy == "" {
		r.CachePolicy = CacheUse
	}
	return r
}

// PersonalityTrait names the fixed enumeration of Big Five traits the
// fingerprinter and prompt assembler recognize. Absence of a trait from the
// map is meaningfully different from a value of 0.5 and must never be
// filled in by a default.
type PersonalityTrait string

const (
	TraitOpenness          PersonalityTrait = "openness"
	TraitConscientiousness PersonalityTrait = "conscientiousness"
	TraitExtraversion      PersonalityTrait = "extraversion"
	TraitAgreeableness     PersonalityTrait = "agreeableness"
	TraitNeuroticism       PersonalityTrait = "neuroticism"
)

// OrderedPersonalityTraits is the canonical order used when serializing
// traits for the fingerprint or rendering them in the assembled prompt.
var OrderedPersonalityTraits = []PersonalityTrait{
	TraitOpenness, TraitConscientiousness, TraitExtraversion,
	TraitAgreeableness, TraitNeuroticism,
}

// MentalStateField names the fixed enumeration of mental-state keys.
// energy_level is a supplemental field beyond the conservative baseline,
// sourced from the original gateway's model but kept optional here.
type MentalStateField string

const (
	StateStressLevel     MentalStateField = "stress_level"
	StateLifeSatisfaction MentalStateField = "life_satisfaction"
	StateCurrentEmotion  MentalStateField = "current_emotion"
	StateEnergyLevel     MentalStateField = "energy_level"
)

// OrderedMentalStateNumericFields is the canonical order for the numeric
// mental-state fields (current_emotion is a string and is rendered last,
// separately).
var OrderedMentalStateNumericFields = []MentalStateField{
	StateStressLevel, StateLifeSatisfaction, StateEnergyLevel,
}

// AgentProfile describes the speaker on whose behalf a prompt is generated.
// Every numeric field distinguishes "absent" from "0.5" by using a map
// rather than a zero-value struct: a trait or state field simply does not
// appear in the map when unspecified.
type AgentProfile struct {
	AgentID    int    `json:"agent_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Age        int    `json:"age,omitempty"`
	Occupation string `json:"occupation,omitempty"`

	// Personality maps PersonalityTrait -> value in [0,1]. Unknown keys are
	// ignored by the fingerprinter and assembler; missing keys are absent.
	Personality map[PersonalityTrait]float64 `json:"personality,omitempty"`

	// MentalStateNumeric holds stress_level/life_satisfaction/energy_level
	// as float64 entries; current_emotion is the separate CurrentEmotion
	// string. All are optional.
	MentalStateNumeric map[MentalStateField]float64 `json:"mental_state_numeric,omitempty"`
	CurrentEmotion     *string                      `json:"current_emotion,omitempty"`

	// Context is a bounded free-text situation description.
	Context string `json:"context,omitempty"`

	// RelationshipContext is a supplemental, optional free-form map,
	// treated identically to Context for fingerprinting/prompt purposes:
	// bounded, optional, serialized in sorted key order.
	RelationshipContext map[string]string `json:"relationship_context,omitempty"`
}
