// Package classifier scores utterances against static keyword and pattern
// tables to detect the speaker's emotion and intent.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// Emotion is a closed set of emotion categories. Declaration order is the
// catalog order and decides ties.
type Emotion int

const (
	Happy Emotion = iota
	Sad
	Angry
	Surprised
	Confused
	Excited
	Loving
	Tired
	Proud
	Nervous
	Interested
	Grateful

	numEmotions
)

// DefaultEmotion is returned when no rule matches.
const DefaultEmotion = Interested

const (
	keywordWeight = 2
	patternWeight = 3

	defaultEmotionConfidence = 0.5
)

var emotionNames = [numEmotions]string{
	Happy:      "HAPPY",
	Sad:        "SAD",
	Angry:      "ANGRY",
	Surprised:  "SURPRISED",
	Confused:   "CONFUSED",
	Excited:    "EXCITED",
	Loving:     "LOVING",
	Tired:      "TIRED",
	Proud:      "PROUD",
	Nervous:    "NERVOUS",
	Interested: "INTERESTED",
	Grateful:   "GRATEFUL",
}

// Emotions returns the catalog in declaration order.
func Emotions() []Emotion {
	out := make([]Emotion, 0, numEmotions)
	for e := Emotion(0); e < numEmotions; e++ {
		out = append(out, e)
	}
	return out
}

func (e Emotion) Valid() bool {
	return e >= 0 && e < numEmotions
}

func (e Emotion) String() string {
	if !e.Valid() {
		return fmt.Sprintf("Emotion(%d)", int(e))
	}
	return emotionNames[e]
}

// ParseEmotion accepts a category name in any case.
func ParseEmotion(s string) (Emotion, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for e, n := range emotionNames {
		if n == name {
			return Emotion(e), nil
		}
	}
	return 0, fmt.Errorf("unknown emotion %q", s)
}

func (e Emotion) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid emotion %d", int(e))
	}
	return []byte(e.String()), nil
}

func (e *Emotion) UnmarshalText(b []byte) error {
	v, err := ParseEmotion(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// EmotionRule lists the substring keywords and regular expressions for one
// category.
type EmotionRule struct {
	Keywords []string
	Patterns []string
}

type compiledRule struct {
	keywords []string
	patterns []*regexp.Regexp
}

// EmotionResult is the outcome of classifying one utterance. Scores is
// indexed by category.
type EmotionResult struct {
	Category   Emotion
	Confidence float64
	Scores     map[Emotion]int
}

// EmotionClassifier is immutable after construction and safe for concurrent
// use.
type EmotionClassifier struct {
	rules [numEmotions]compiledRule
}

// NewEmotionClassifier compiles rules. Every category must have at least one
// keyword or pattern.
func NewEmotionClassifier(rules map[Emotion]EmotionRule) (*EmotionClassifier, error) {
	c := &EmotionClassifier{}
	for _, e := range Emotions() {
		rule, ok := rules[e]
		if !ok || (len(rule.Keywords) == 0 && len(rule.Patterns) == 0) {
			return nil, fmt.Errorf("emotion %s has no rules", e)
		}
		compiled := compiledRule{keywords: normalizeKeywords(rule.Keywords)}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("emotion %s pattern %q: %w", e, p, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		c.rules[e] = compiled
	}
	for e := range rules {
		if !e.Valid() {
			return nil, fmt.Errorf("rule for unknown emotion %d", int(e))
		}
	}
	return c, nil
}

// NewDefaultEmotionClassifier builds the classifier from the built-in tables.
func NewDefaultEmotionClassifier() *EmotionClassifier {
	c, err := NewEmotionClassifier(DefaultEmotionRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify never fails. With no matches it returns DefaultEmotion at 0.5.
func (c *EmotionClassifier) Classify(utterance string) EmotionResult {
	text := strings.ToLower(utterance)
	scores := make(map[Emotion]int, numEmotions)
	total := 0
	best, bestScore := DefaultEmotion, 0
	for e := Emotion(0); e < numEmotions; e++ {
		s := c.rules[e].score(text)
		scores[e] = s
		total += s
		// strict > keeps the first declared category on ties
		if s > bestScore {
			best, bestScore = e, s
		}
	}
	if total == 0 {
		return EmotionResult{Category: DefaultEmotion, Confidence: defaultEmotionConfidence, Scores: scores}
	}
	return EmotionResult{
		Category:   best,
		Confidence: clamp01(float64(bestScore) / float64(total)),
		Scores:     scores,
	}
}

func (r compiledRule) score(text string) int {
	score := 0
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			score += keywordWeight
		}
	}
	for _, re := range r.patterns {
		if re.MatchString(text) {
			score += patternWeight
		}
	}
	return score
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
