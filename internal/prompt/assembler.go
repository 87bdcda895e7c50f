// Package prompt assembles the final text sent to the backend from a user
// prompt and an optional agent profile, per spec.md §4.D.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentgraphsociety/llm-gateway/internal/types"
)

const (
	sectionDelimiter = "---"
	userPromptMarker = "=== USER PROMPT ==="

	// DefaultMaxAssembledLength bounds the persona header; context is
	// truncated first, then personality/mental-state, never the user
	// prompt.
	DefaultMaxAssembledLength = 4000
)

// Assembler renders GenerationRequest.AgentProfile into a deterministic
// persona header ahead of the user prompt.
type Assembler struct {
	MaxAssembledLength int
}

func NewAssembler(maxAssembledLength int) *Assembler {
	if maxAssembledLength <= 0 {
		maxAssembledLength = DefaultMaxAssembledLength
	}
	return &Assembler{MaxAssembledLength: maxAssembledLength}
}

// Assemble returns the final prompt string. Deterministic given the same
// inputs, which is required for fingerprint stability — the caller must
// fingerprint the request, not the assembled prompt.
func (a *Assembler) Assemble(userPrompt string, profile *types.AgentProfile) string {
	if profile == nil {
		return userPrompt
	}

	header := a.renderHeader(profile)
	personality := renderPersonality(profile)
	mentalState := renderMentalState(profile)
	context := renderContext(profile)

	sections := []string{header}
	if personality != "" {
		sections = append(sections, personality)
	}
	if mentalState != "" {
		sections = append(sections, mentalState)
	}
	if context != "" {
		sections = append(sections, context)
	}

	assembled := strings.Join(sections, "\n"+sectionDelimiter+"\n")
	assembled = a.truncate(assembled, context, personality, mentalState)

	var b strings.Builder
	b.WriteString(assembled)
	b.WriteString("\n")
	b.WriteString(userPromptMarker)
	b.WriteString("\n")
	b.WriteString(userPrompt)
	return b.String()
}

// truncate drops the context section first, then personality/mental-state,
// if the persona header alone exceeds MaxAssembledLength. The user prompt
// is never touched here — Assemble appends it after truncation.
func (a *Assembler) truncate(assembled, context, personality, mentalState string) string {
	if len(assembled) <= a.MaxAssembledLength {
		return assembled
	}
	if context != "" {
		assembled = strings.Replace(assembled, "\n"+sectionDelimiter+"\n"+context, "", 1)
		assembled = strings.TrimSuffix(assembled, context)
	}
	if len(assembled) <= a.MaxAssembledLength {
		return assembled
	}
	if personality != "" {
		assembled = strings.Replace(assembled, "\n"+sectionDelimiter+"\n"+personality, "", 1)
		assembled = strings.TrimSuffix(assembled, personality)
	}
	if len(assembled) <= a.MaxAssembledLength {
		return assembled
	}
	if mentalState != "" {
		assembled = strings.Replace(assembled, "\n"+sectionDelimiter+"\n"+mentalState, "", 1)
		assembled = strings.TrimSuffix(assembled, mentalState)
	}
	if len(assembled) > a.MaxAssembledLength {
		assembled = assembled[:a.MaxAssembledLength]
	}
	return assembled
}

func (a *Assembler) renderHeader(p *types.AgentProfile) string {
	var b strings.Builder
	b.WriteString("You are")
	if p.Name != "" {
		fmt.Fprintf(&b, " %s,", p.Name)
	}
	if p.Age > 0 {
		fmt.Fprintf(&b, " a %d-year-old", p.Age)
	}
	if p.Occupation != "" {
		fmt.Fprintf(&b, " %s", p.Occupation)
	}
	b.WriteString(".")
	return b.String()
}

var traitLabels = map[types.PersonalityTrait]string{
	types.TraitOpenness:          "Openness",
	types.TraitConscientiousness: "Conscientiousness",
	types.TraitExtraversion:      "Extraversion",
	types.TraitAgreeableness:     "Agreeableness",
	types.TraitNeuroticism:       "Neuroticism",
}

// renderPersonality lists only traits actually present in the profile, in
// canonical order. Absent traits never appear with a synthesized default.
func renderPersonality(p *types.AgentProfile) string {
	if len(p.Personality) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Personality traits:")
	for _, trait := range types.OrderedPersonalityTraits {
		v, ok := p.Personality[trait]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %.2f", traitLabels[trait], v)
	}
	return b.String()
}

var mentalStateLabels = map[types.MentalStateField]string{
	types.StateStressLevel:     "Stress level",
	types.StateLifeSatisfaction: "Life satisfaction",
	types.StateEnergyLevel:     "Energy level",
}

func renderMentalState(p *types.AgentProfile) string {
	hasNumeric := false
	for _, field := range types.OrderedMentalStateNumericFields {
		if _, ok := p.MentalStateNumeric[field]; ok {
			hasNumeric = true
			break
		}
	}
	if !hasNumeric && p.CurrentEmotion == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Current state:")
	for _, field := range types.OrderedMentalStateNumericFields {
		v, ok := p.MentalStateNumeric[field]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %.2f", mentalStateLabels[field], v)
	}
	if p.CurrentEmotion != nil {
		fmt.Fprintf(&b, "\n- Current emotion: %s", *p.CurrentEmotion)
	}
	return b.String()
}

func renderContext(p *types.AgentProfile) string {
	var b strings.Builder
	if p.Context != "" {
		fmt.Fprintf(&b, "Context: %s", p.Context)
	}
	if len(p.RelationshipContext) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Relationships:")
		for _, k := range sortedKeys(p.RelationshipContext) {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.RelationshipContext[k])
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
