package extraction

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

// ExtractedEntity is one entity Stage 2 found in an utterance.
type ExtractedEntity struct {
	Name       string
	Aliases    []string
	Kind       graph.NodeKind
	Explicit   bool // the utterance named this entity directly, vs. implied
	New        bool // the model judged this entity unknown to the session
	Warning    bool // a hallucination check reduced this entity's confidence
	Confidence float64
}

const entityExtractionSystemPrompt = `You extract entities mentioned in a single utterance for a personal knowledge graph.
Respond with a JSON array only. Each element: {"name": string, "aliases": [string], "kind": one of person|organization|place|tool|concept|episode|experience|procedure|preference|context, "explicit": bool, "new": bool}.
"explicit" is true only when the utterance names the entity directly (not implied). "new" is true only when the entity is not among the known entities listed below.`

// extractEntities is Stage 2: query the small-LLM capability, repair its
// JSON, and run the hallucination checks spec §4.5 mandates.
func (c *llmClient) extractEntities(ctx context.Context, d *Draft) (*Draft, error) {
	req := llm.CompletionRequest{
		SystemPrompt: entityExtractionSystemPrompt + "\nKnown entities: " + strings.Join(knownNames(d.KnownEntityNames), ", "),
		Messages:     []types.Message{{Role: "user", Content: d.CleanedText}},
		Temperature:  0,
	}

	resp, err := c.completeSmallWithRetry(ctx, req)
	if err != nil {
		d.addTag("entities_extraction_failed")
		return d, errf("extract_entities", err)
	}

	repaired, ok := repairJSON(resp.Content)
	if !ok {
		d.addTag("entities_unparseable")
		return d, errf("extract_entities", fallbackError("could not repair model output to valid JSON"))
	}

	entities := parseEntities(repaired)
	warnings := 0
	wordCount := len(strings.Fields(d.CleanedText))
	for i := range entities {
		e := &entities[i]
		if e.Explicit && !entitySpanPresent(d.CleanedText, e.Name, e.Aliases) {
			e.Warning = true
			warnings++
		}
		if e.New && d.KnownEntityNames[strings.ToLower(e.Name)] {
			e.Warning = true
			warnings++
		}
	}
	if !entityCountPlausible(len(entities), wordCount) {
		warnings++
	}

	threshold := c.cfg.HallucinationDiscardThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if warnings >= threshold {
		d.HallucinationCount++
		d.addTag("entities_discarded_hallucination")
		return d, nil
	}
	for i := range entities {
		if entities[i].Warning {
			entities[i].Confidence *= 0.5
		}
	}
	d.Entities = entities
	return d, nil
}

// parseEntities maps a repaired JSON array into []ExtractedEntity,
// tolerating missing optional fields.
func parseEntities(repairedJSON string) []ExtractedEntity {
	results := gjson.Parse(repairedJSON).Array()
	out := make([]ExtractedEntity, 0, len(results))
	for _, r := range results {
		name := r.Get("name").String()
		if name == "" {
			continue
		}
		var aliases []string
		for _, a := range r.Get("aliases").Array() {
			aliases = append(aliases, a.String())
		}
		out = append(out, ExtractedEntity{
			Name:       name,
			Aliases:    aliases,
			Kind:       graph.NodeKind(r.Get("kind").String()),
			Explicit:   r.Get("explicit").Bool(),
			New:        r.Get("new").Bool(),
			Confidence: 1.0,
		})
	}
	return out
}

// entitySpanPresent reports whether name or any of aliases appears as a
// case-insensitive substring of utterance — the Stage 2 hallucination check
// for entities marked explicit.
func entitySpanPresent(utterance, name string, aliases []string) bool {
	lower := strings.ToLower(utterance)
	if strings.Contains(lower, strings.ToLower(name)) {
		return true
	}
	for _, a := range aliases {
		if strings.Contains(lower, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// entityCountPlausible reports whether count extracted entities is
// plausible for an utterance of wordCount words: spec §4.5 caps it at
// 0.5 × word count.
func entityCountPlausible(count, wordCount int) bool {
	return float64(count) <= 0.5*float64(wordCount)
}

func knownNames(known map[string]bool) []string {
	out := make([]string, 0, len(known))
	for name := range known {
		out = append(out, name)
	}
	return out
}
