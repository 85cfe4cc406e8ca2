// Package corpus loads the dialogue-example and proverb reference sets used
// for retrieval. Both are fetched once at startup and are read-only after.
package corpus

// DialogueExample is one annotated exchange from the dialogue corpus.
type DialogueExample struct {
	Text     string            `json:"text"`
	Speaker  string            `json:"speaker"`
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
	Split    string            `json:"split"`
}

// Proverb is a Tunisian proverb with its theme and optional illustration.
type Proverb struct {
	Text     string `json:"text"`
	Theme    string `json:"theme"`
	Split    string `json:"split"`
	ImageRef string `json:"image_ref,omitempty"`
}

// LoadStatus reports whether the remote source or the built-in set was used.
type LoadStatus int

const (
	LoadPrimary LoadStatus = iota
	LoadFallback
)

func (s LoadStatus) String() string {
	if s == LoadFallback {
		return "fallback"
	}
	return "primary"
}

// Dialogues is an immutable dialogue corpus.
type Dialogues struct {
	examples []DialogueExample
	status   LoadStatus
	source   string
}

func NewDialogues(examples []DialogueExample, status LoadStatus, source string) *Dialogues {
	cp := make([]DialogueExample, len(examples))
	copy(cp, examples)
	return &Dialogues{examples: cp, status: status, source: source}
}

func (d *Dialogues) Len() int {
	if d == nil {
		return 0
	}
	return len(d.examples)
}

// At returns the i-th example. The entity map is shared and must not be
// mutated.
func (d *Dialogues) At(i int) DialogueExample { return d.examples[i] }

func (d *Dialogues) Status() LoadStatus { return d.status }
func (d *Dialogues) Source() string     { return d.source }

// Proverbs is an immutable proverb corpus with a text→image index.
type Proverbs struct {
	items  []Proverb
	images map[string]string
	status LoadStatus
	source string
}

func NewProverbs(items []Proverb, status LoadStatus, source string) *Proverbs {
	cp := make([]Proverb, len(items))
	copy(cp, items)
	images := make(map[string]string)
	for _, p := range cp {
		if p.ImageRef != "" {
			images[p.Text] = p.ImageRef
		}
	}
	return &Proverbs{items: cp, images: images, status: status, source: source}
}

func (p *Proverbs) Len() int {
	if p == nil {
		return 0
	}
	return len(p.items)
}

func (p *Proverbs) At(i int) Proverb { return p.items[i] }

// ImageFor returns the image reference attached to a proverb's text.
func (p *Proverbs) ImageFor(text string) (string, bool) {
	if p == nil {
		return "", false
	}
	ref, ok := p.images[text]
	return ref, ok
}

func (p *Proverbs) Status() LoadStatus { return p.status }
func (p *Proverbs) Source() string     { return p.source }
