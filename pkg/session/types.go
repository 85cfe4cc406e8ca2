// Package session owns the per-session conversation history and user profile
// records kept in the session store.
package session

import (
	"time"

	"github.com/dotsetgreg/bmo/pkg/classifier"
)

const (
	// MaxHistory is the number of turns retained per session.
	MaxHistory = 20
	// MaxEmotionHistory bounds the profile's emotion log.
	MaxEmotionHistory = 50

	HistoryTTL = 7 * 24 * time.Hour
	ProfileTTL = 30 * 24 * time.Hour

	DefaultName = "Friend"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is ordered oldest first.
type History []Turn

// Last returns the trailing n turns.
func (h History) Last(n int) History {
	if n <= 0 {
		return nil
	}
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

type EmotionRecord struct {
	Emotion    classifier.Emotion `json:"emotion"`
	Confidence float64            `json:"confidence"`
	At         time.Time          `json:"at"`
}

type UserProfile struct {
	Name             string            `json:"name"`
	Language         string            `json:"language,omitempty"`
	Preferences      map[string]string `json:"preferences,omitempty"`
	InteractionCount int               `json:"interaction_count"`
	EmotionHistory   []EmotionRecord   `json:"emotion_history,omitempty"`
	Learned          string            `json:"learned,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at,omitempty"`
}

// DefaultProfile is the record assumed for a session never seen before.
func DefaultProfile() UserProfile {
	return UserProfile{Name: DefaultName, Preferences: map[string]string{}}
}

// RecordEmotion appends to the emotion log, dropping the oldest entries past
// MaxEmotionHistory.
func (p *UserProfile) RecordEmotion(e classifier.Emotion, confidence float64, at time.Time) {
	p.EmotionHistory = append(p.EmotionHistory, EmotionRecord{Emotion: e, Confidence: confidence, At: at})
	if over := len(p.EmotionHistory) - MaxEmotionHistory; over > 0 {
		p.EmotionHistory = append([]EmotionRecord(nil), p.EmotionHistory[over:]...)
	}
}

// LastEmotion reports the most recent emotion record.
func (p UserProfile) LastEmotion() (EmotionRecord, bool) {
	if len(p.EmotionHistory) == 0 {
		return EmotionRecord{}, false
	}
	return p.EmotionHistory[len(p.EmotionHistory)-1], true
}
