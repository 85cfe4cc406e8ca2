package retrieval

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/corpus"
)

// Rand is the random source used for uniform selection.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// LockedRand makes a seeded *rand.Rand safe for concurrent selectors.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewLockedRand(seed uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// themeKeywords must appear in a proverb's text for RelatedTo to consider it.
var themeKeywords = []string{
	"صبر", "الصاحب", "خير", "اليد", "فات", "الضحكة", "الشهدة",
	"patience", "friend", "ami", "hope", "espoir",
}

// triggerKeywords must appear in the query for RelatedTo to fire.
var triggerKeywords = []string{
	"تأخر", "نستنى", "حزين", "صاحب", "مشكلة", "تعبان", "صعيب", "خايف",
	"wait", "late", "sad", "friend", "problem", "tired", "hard", "difficult",
	"attendre", "retard", "triste", "difficile", "fatigué",
}

var emotionThemes = map[classifier.Emotion][]string{
	classifier.Happy:      {"joy", "friendship"},
	classifier.Sad:        {"hope", "patience", "acceptance"},
	classifier.Angry:      {"patience", "acceptance"},
	classifier.Surprised:  {"hope", "joy"},
	classifier.Confused:   {"patience", "effort"},
	classifier.Excited:    {"joy", "effort"},
	classifier.Loving:     {"friendship", "cooperation"},
	classifier.Tired:      {"patience", "effort"},
	classifier.Proud:      {"effort", "cooperation"},
	classifier.Nervous:    {"hope", "patience"},
	classifier.Interested: {"wisdom", "effort"},
	classifier.Grateful:   {"friendship", "cooperation"},
}

// ThemesFor returns the proverb themes associated with an emotion.
func ThemesFor(e classifier.Emotion) []string {
	return emotionThemes[e]
}

// ProverbSelector chooses at most one proverb per call.
type ProverbSelector struct {
	corpus *corpus.Proverbs
	rnd    Rand
}

// NewProverbSelector uses the process-wide random source when rnd is nil.
func NewProverbSelector(c *corpus.Proverbs, rnd Rand) *ProverbSelector {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &ProverbSelector{corpus: c, rnd: rnd}
}

// RelatedTo picks uniformly among proverbs whose text carries a theme
// keyword, provided the query itself carries a trigger keyword.
func (s *ProverbSelector) RelatedTo(query string) (corpus.Proverb, bool) {
	if !containsAny(strings.ToLower(query), triggerKeywords) {
		return corpus.Proverb{}, false
	}
	var candidates []corpus.Proverb
	for i := 0; i < s.corpus.Len(); i++ {
		p := s.corpus.At(i)
		if containsAny(strings.ToLower(p.Text), themeKeywords) {
			candidates = append(candidates, p)
		}
	}
	return s.pick(candidates)
}

// ForEmotion picks uniformly among proverbs themed for e, or from the whole
// corpus when none match.
func (s *ProverbSelector) ForEmotion(e classifier.Emotion) (corpus.Proverb, bool) {
	if p, ok := s.pick(s.ByEmotion(e)); ok {
		return p, true
	}
	return s.Random()
}

// ByEmotion lists every proverb themed for e in corpus order.
func (s *ProverbSelector) ByEmotion(e classifier.Emotion) []corpus.Proverb {
	themes := emotionThemes[e]
	var out []corpus.Proverb
	for i := 0; i < s.corpus.Len(); i++ {
		p := s.corpus.At(i)
		for _, th := range themes {
			if strings.EqualFold(p.Theme, th) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (s *ProverbSelector) Random() (corpus.Proverb, bool) {
	n := s.corpus.Len()
	if n == 0 {
		return corpus.Proverb{}, false
	}
	return s.corpus.At(s.rnd.IntN(n)), true
}

func (s *ProverbSelector) ImageFor(text string) (string, bool) {
	return s.corpus.ImageFor(text)
}

func (s *ProverbSelector) pick(candidates []corpus.Proverb) (corpus.Proverb, bool) {
	if len(candidates) == 0 {
		return corpus.Proverb{}, false
	}
	return candidates[s.rnd.IntN(len(candidates))], true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
