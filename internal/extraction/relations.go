package extraction

import (
	"context"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/knowgraph/memoryd/pkg/graph"
	"github.com/knowgraph/memoryd/pkg/provider/llm"
	"github.com/knowgraph/memoryd/pkg/types"
)

// ExtractedRelation is one relation Stage 3 found in an utterance, carrying
// every special-case flag spec §4.5 Stage 3 defines. ConfidenceFactor and
// ConfidenceCap are read by Stage 6 when it computes the final confidence;
// everything else here is Stage 3/4/5 output.
type ExtractedRelation struct {
	Source   string
	Target   string
	Relation string

	Mechanism graph.Provenance
	Hedge     string  // "none" | "mild" | "moderate" | "strong", set by Stage 4
	Sentiment float64 // -1..1, set by Stage 4

	Hypothetical         bool
	Sarcastic            bool
	AttributionUncertain bool
	Secondhand           bool
	SecondhandSource     string
	ParallelUserEdge     bool // "and I agree" trailing clause: emit a parallel user edge
	Retraction           bool
	RetractionHint       string

	// ConfidenceFactor multiplies the Stage 6 base confidence (1.0 = no
	// adjustment). ConfidenceCap, if nonzero, is an upper bound Stage 6
	// clamps to after every other factor is applied.
	ConfidenceFactor float64
	ConfidenceCap    float64

	TemporalType graph.TemporalType
	Expiry       *time.Time

	ContextTags []string
	EpisodeID   string
	Confidence  float64 // set by Stage 6
	Warning     bool
}

const relationExtractionSystemPrompt = `You extract relations between entities mentioned in a single utterance for a personal knowledge graph.
Respond with a JSON array only. Each element:
{"source": string, "target": string, "relation": string, "mechanism": one of explicit|observational|inferential|reflective,
 "hypothetical": bool, "sarcastic": bool, "attribution_uncertain": bool,
 "secondhand": bool, "secondhand_source": string, "parallel_user_edge": bool,
 "retraction": bool, "retraction_hint": string, "context_tags": [string]}
"hypothetical" marks counterfactual/conditional statements ("if I were..."). "secondhand" marks reports of what someone else believes
("John thinks..."); set secondhand_source to that person's name. "retraction" marks an explicit request to forget a prior statement
("forget what I said about ..."); set retraction_hint to what should be forgotten and omit source/target/relation.`

// extractRelations is Stage 3: same repair/retry/hallucination discipline
// as Stage 2, plus the linguistic special cases spec §4.5 Stage 3 lists.
func (c *llmClient) extractRelations(ctx context.Context, d *Draft) (*Draft, error) {
	req := llm.CompletionRequest{
		SystemPrompt: relationExtractionSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: d.CleanedText}},
		Temperature:  0,
	}

	resp, err := c.completeSmallWithRetry(ctx, req)
	if err != nil {
		d.addTag("relations_extraction_failed")
		return d, errf("extract_relations", err)
	}

	repaired, ok := repairJSON(resp.Content)
	if !ok {
		d.addTag("relations_unparseable")
		return d, errf("extract_relations", fallbackError("could not repair model output to valid JSON"))
	}

	relations, sanitizedJSON, warnings := parseRelations(repaired, d.CleanedText)

	threshold := c.cfg.HallucinationDiscardThreshold
	if threshold <= 0 {
		threshold = 3
	}
	if warnings >= threshold {
		d.HallucinationCount++
		d.addTag("relations_discarded_hallucination")
		return d, nil
	}
	if sanitizedJSON != repaired {
		c.cfg.logger().Debug("relation extraction dropped malformed entries",
			"session_id", d.SessionID, "turn", d.TurnNumber, "sanitized", sanitizedJSON)
	}
	for i := range relations {
		relations[i].EpisodeID = d.EpisodeID
	}
	d.Relations = relations
	return d, nil
}

// parseRelations maps the repaired JSON array into []ExtractedRelation,
// applying the Stage-3 special cases and counting hallucination warnings.
// A relation entry missing its required "relation" field is malformed
// rather than merely uncertain — it is stripped from a working copy of the
// JSON with sjson (instead of round-tripped through a struct) purely so the
// caller can log exactly what was rejected without reconstructing it.
func parseRelations(rawJSON, utterance string) (relations []ExtractedRelation, sanitizedJSON string, warnings int) {
	working := rawJSON
	results := gjson.Parse(rawJSON).Array()
	out := make([]ExtractedRelation, 0, len(results))

	for i, r := range results {
		if r.Get("retraction").Bool() {
			out = append(out, ExtractedRelation{
				Retraction:     true,
				RetractionHint: r.Get("retraction_hint").String(),
			})
			continue
		}

		relation := r.Get("relation").String()
		if relation == "" {
			working, _ = sjson.Delete(working, strconv.Itoa(i))
			warnings++
			continue
		}

		rel := ExtractedRelation{
			Source:               r.Get("source").String(),
			Target:               r.Get("target").String(),
			Relation:             relation,
			Mechanism:            graph.Provenance(orDefault(r.Get("mechanism").String(), string(graph.ProvenanceObservational))),
			Hypothetical:         r.Get("hypothetical").Bool(),
			Sarcastic:            r.Get("sarcastic").Bool(),
			AttributionUncertain: r.Get("attribution_uncertain").Bool(),
			Secondhand:           r.Get("secondhand").Bool(),
			SecondhandSource:     r.Get("secondhand_source").String(),
			ParallelUserEdge:     r.Get("parallel_user_edge").Bool(),
			ConfidenceFactor:     1.0,
		}
		for _, t := range r.Get("context_tags").Array() {
			rel.ContextTags = append(rel.ContextTags, t.String())
		}

		if !entitySpanPresent(utterance, rel.Source, nil) && !entitySpanPresent(utterance, rel.Target, nil) {
			rel.Warning = true
			warnings++
		}

		applySpecialCases(&rel)
		out = append(out, rel)

		if rel.ParallelUserEdge {
			out = append(out, ExtractedRelation{
				Source:           "user",
				Target:           rel.Target,
				Relation:         rel.Relation,
				Mechanism:        graph.ProvenanceExplicit,
				ContextTags:      rel.ContextTags,
				ConfidenceFactor: 1.0,
			})
		}
	}
	return out, working, warnings
}

// applySpecialCases mutates rel in place per spec §4.5 Stage 3's linguistic
// special-case table, translating each flag into the mechanism, confidence
// factor, and confidence cap that Stage 6 applies.
func applySpecialCases(rel *ExtractedRelation) {
	if rel.Hypothetical {
		rel.Mechanism = graph.ProvenanceInferential
		rel.ConfidenceCap = hypotheticalCapConfidence
	}
	if rel.Sarcastic {
		rel.Sentiment = -rel.Sentiment
		rel.ConfidenceFactor *= sarcasmConfidenceFactor
	}
	if rel.AttributionUncertain {
		rel.ConfidenceCap = capIfTighter(rel.ConfidenceCap, attributionUncertainCapConfidence)
	}
	if rel.Secondhand {
		rel.Mechanism = graph.ProvenanceObservational
		rel.ConfidenceFactor *= secondhandConfidenceFactor
	}
}

func capIfTighter(existing, candidate float64) float64 {
	if existing == 0 || candidate < existing {
		return candidate
	}
	return existing
}

// hypotheticalCapConfidence is the spec §4.5 ceiling for a hypothetical or
// counterfactual relation: at most a weak-interest edge.
const hypotheticalCapConfidence = 0.20

// attributionUncertainCapConfidence is the spec §4.5 ceiling applied when a
// predicate's subject binding is uncertain in a multi-person utterance.
const attributionUncertainCapConfidence = 0.50

// secondhandConfidenceFactor is the spec §4.5 reduction for a relation
// reported as someone else's belief rather than the user's own statement.
const secondhandConfidenceFactor = 0.80

// sarcasmConfidenceFactor is the spec §4.5 reduction applied alongside the
// sentiment inversion when sarcasm or irony is detected.
const sarcasmConfidenceFactor = 0.70

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
