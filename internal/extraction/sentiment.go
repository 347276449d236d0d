package extraction

import (
	"context"
	"strings"
)

// hedgePhrases maps a lexical cue to the hedge level it signals. Checked in
// the order below (strongest first) so a phrase matching more than one
// level picks the strongest.
var hedgePhrases = []struct {
	level  string
	phrase string
}{
	{"strong", "i'm not sure"},
	{"strong", "not really sure"},
	{"strong", "no idea"},
	{"moderate", "i think"},
	{"moderate", "i guess"},
	{"moderate", "probably"},
	{"moderate", "might be"},
	{"mild", "i believe"},
	{"mild", "sort of"},
	{"mild", "kind of"},
	{"mild", "maybe"},
}

var positiveWords = []string{"love", "great", "happy", "excited", "enjoy", "awesome", "wonderful"}
var negativeWords = []string{"hate", "terrible", "sad", "angry", "awful", "frustrated", "annoyed"}

// ClassifySentiment implements Stage 4: a lexical heuristic over the
// cleaned utterance, not an LLM call — hedge and sentiment detection here
// are cheap enough, and frequent enough per utterance, that paying small-LLM
// latency and budget for every relation would be wasteful. Fallback on an
// empty utterance: moderate hedge, neutral sentiment.
func ClassifySentiment(_ context.Context, d *Draft) (*Draft, error) {
	if d.CleanedText == "" {
		applySentiment(d, "moderate", 0)
		return d, errf("sentiment", errEmptyUtterance)
	}
	lower := strings.ToLower(d.CleanedText)

	hedge := "none"
	for _, hp := range hedgePhrases {
		if strings.Contains(lower, hp.phrase) {
			hedge = hp.level
			break
		}
	}

	sentiment := lexicalSentiment(lower)
	applySentiment(d, hedge, sentiment)
	return d, nil
}

func applySentiment(d *Draft, hedge string, sentiment float64) {
	for i := range d.Relations {
		if d.Relations[i].Retraction {
			continue
		}
		d.Relations[i].Hedge = hedge
		d.Relations[i].Sentiment = sentiment
		if d.Relations[i].Sarcastic {
			d.Relations[i].Sentiment = -sentiment
		}
	}
}

// lexicalSentiment returns a polarity in [-1, 1] from a simple bag-of-words
// count; ties and the absence of any cue word are neutral.
func lexicalSentiment(lower string) float64 {
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0
	}
	return float64(pos-neg) / float64(total)
}

// sentimentStrengthFactor maps a signed sentiment value to the [0,1] factor
// Stage 6's confidence formula multiplies in: strong sentiment (positive or
// negative) supports full confidence, near-neutral sentiment is treated as
// ambivalence and damps it.
func sentimentStrengthFactor(sentiment float64) float64 {
	strength := sentiment
	if strength < 0 {
		strength = -strength
	}
	return 0.7 + 0.3*strength
}
