package classifier

import (
	"fmt"
	"strings"
)

// Intent is a closed set of request intents used to frame retrieval and the
// reply.
type Intent int

const (
	IntentGreeting Intent = iota
	IntentHelp
	IntentTransport
	IntentInformation
	IntentBooking
	IntentGratitude
	IntentComplaint
	IntentGeneral

	numIntents
)

const (
	intentSaturation        = 3.0
	defaultIntentConfidence = 0.3
)

var intentNames = [numIntents]string{
	IntentGreeting:    "greeting",
	IntentHelp:        "help",
	IntentTransport:   "transport",
	IntentInformation: "information",
	IntentBooking:     "booking",
	IntentGratitude:   "gratitude",
	IntentComplaint:   "complaint",
	IntentGeneral:     "general",
}

func (i Intent) Valid() bool {
	return i >= 0 && i < numIntents
}

func (i Intent) String() string {
	if !i.Valid() {
		return fmt.Sprintf("Intent(%d)", int(i))
	}
	return intentNames[i]
}

func ParseIntent(s string) (Intent, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range intentNames {
		if n == name {
			return Intent(i), nil
		}
	}
	return 0, fmt.Errorf("unknown intent %q", s)
}

func (i Intent) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("invalid intent %d", int(i))
	}
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(b []byte) error {
	v, err := ParseIntent(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

type IntentResult struct {
	Category   Intent
	Confidence float64
	Score      int
}

type IntentClassifier struct {
	keywords [numIntents][]string
}

// NewIntentClassifier requires keywords for every intent except
// IntentGeneral, which is the no-match fallback.
func NewIntentClassifier(rules map[Intent][]string) (*IntentClassifier, error) {
	c := &IntentClassifier{}
	for i := Intent(0); i < numIntents; i++ {
		if i == IntentGeneral {
			continue
		}
		kws := normalizeKeywords(rules[i])
		if len(kws) == 0 {
			return nil, fmt.Errorf("intent %s has no keywords", i)
		}
		c.keywords[i] = kws
	}
	if len(rules[IntentGeneral]) > 0 {
		return nil, fmt.Errorf("intent %s is a fallback and cannot have keywords", IntentGeneral)
	}
	return c, nil
}

func NewDefaultIntentClassifier() *IntentClassifier {
	c, err := NewIntentClassifier(DefaultIntentRules())
	if err != nil {
		panic(err)
	}
	return c
}

// Classify scores one point per keyword hit; confidence saturates at three
// hits.
func (c *IntentClassifier) Classify(utterance string) IntentResult {
	text := strings.ToLower(utterance)
	best, bestScore := IntentGeneral, 0
	for i := Intent(0); i < numIntents; i++ {
		s := 0
		for _, kw := range c.keywords[i] {
			if strings.Contains(text, kw) {
				s++
			}
		}
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if bestScore == 0 {
		return IntentResult{Category: IntentGeneral, Confidence: defaultIntentConfidence}
	}
	return IntentResult{
		Category:   best,
		Confidence: clamp01(float64(bestScore) / intentSaturation),
		Score:      bestScore,
	}
}
