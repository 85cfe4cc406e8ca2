package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/store"
)

// Manager reads and writes session records. Records are created lazily:
// an absent key yields an empty history or the default profile.
type Manager struct {
	store store.Store
	locks *keyedLocker
	now   func() time.Time
}

func NewManager(s store.Store) *Manager {
	return &Manager{
		store: s,
		locks: newKeyedLocker(),
		now:   time.Now,
	}
}

// Lock serializes work on one session id within this process. Callers must
// invoke the returned function exactly once. Not reentrant.
func (m *Manager) Lock(sessionID string) func() {
	return m.locks.lock(sessionID)
}

// LoadHistory returns an empty history when the session has none. On a store
// or decode failure the empty history is still returned alongside the error
// so a turn can proceed as a fresh session.
func (m *Manager) LoadHistory(ctx context.Context, sessionID string) (History, error) {
	data, ok, err := m.store.Get(ctx, store.ConversationKey(sessionID))
	if err != nil {
		logReadFailure("history", sessionID, err)
		return History{}, err
	}
	if !ok {
		return History{}, nil
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		err = fmt.Errorf("decode history %s: %w", sessionID, err)
		logReadFailure("history", sessionID, err)
		return History{}, err
	}
	return h, nil
}

// AppendAndSave merges turns onto the stored history, keeps the newest
// MaxHistory entries and persists with HistoryTTL. A failed read aborts the
// write so an unreadable history is never overwritten.
func (m *Manager) AppendAndSave(ctx context.Context, sessionID string, turns ...Turn) (History, error) {
	h, err := m.LoadHistory(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.SaveHistory(ctx, sessionID, append(h, turns...))
}

// SaveHistory truncates h to the newest MaxHistory turns and overwrites the
// stored history. Callers holding the session lock use it to write back a
// history they already loaded.
func (m *Manager) SaveHistory(ctx context.Context, sessionID string, h History) (History, error) {
	if len(h) > MaxHistory {
		h = append(History(nil), h[len(h)-MaxHistory:]...)
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	if err := m.store.SetWithTTL(ctx, store.ConversationKey(sessionID), data, HistoryTTL); err != nil {
		return nil, err
	}
	return h, nil
}

// LoadProfile mirrors LoadHistory for the user profile.
func (m *Manager) LoadProfile(ctx context.Context, sessionID string) (UserProfile, error) {
	data, ok, err := m.store.Get(ctx, store.ProfileKey(sessionID))
	if err != nil {
		logReadFailure("profile", sessionID, err)
		return DefaultProfile(), err
	}
	if !ok {
		return DefaultProfile(), nil
	}
	p := DefaultProfile()
	if err := json.Unmarshal(data, &p); err != nil {
		err = fmt.Errorf("decode profile %s: %w", sessionID, err)
		logReadFailure("profile", sessionID, err)
		return DefaultProfile(), err
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultName
	}
	if p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	return p, nil
}

// SaveProfile rewrites the whole profile with ProfileTTL.
func (m *Manager) SaveProfile(ctx context.Context, sessionID string, p UserProfile) error {
	p.UpdatedAt = m.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return m.store.SetWithTTL(ctx, store.ProfileKey(sessionID), data, ProfileTTL)
}

// SetName records how the assistant should address the user.
func (m *Manager) SetName(ctx context.Context, sessionID, name string) (UserProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UserProfile{}, fmt.Errorf("name is empty")
	}
	return m.mutateProfile(ctx, sessionID, func(p *UserProfile) {
		p.Name = name
	})
}

// Learn appends a correction to the profile's learned facts as
// "- topic: correction".
func (m *Manager) Learn(ctx context.Context, sessionID, topic, correction string) (UserProfile, error) {
	correction = strings.TrimSpace(correction)
	if correction == "" {
		return UserProfile{}, fmt.Errorf("correction is empty")
	}
	entry := correction
	if c := strings.TrimSpace(topic); c != "" {
		entry = c + ": " + correction
	}
	return m.mutateProfile(ctx, sessionID, func(p *UserProfile) {
		if p.Learned == "" {
			p.Learned = "- " + entry
		} else {
			p.Learned += "\n- " + entry
		}
	})
}

func (m *Manager) SetPreference(ctx context.Context, sessionID, key, value string) (UserProfile, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return UserProfile{}, fmt.Errorf("preference key is empty")
	}
	return m.mutateProfile(ctx, sessionID, func(p *UserProfile) {
		if key == "language" {
			p.Language = value
			return
		}
		if value == "" {
			delete(p.Preferences, key)
			return
		}
		p.Preferences[key] = value
	})
}

func (m *Manager) mutateProfile(ctx context.Context, sessionID string, fn func(*UserProfile)) (UserProfile, error) {
	unlock := m.Lock(sessionID)
	defer unlock()

	p, err := m.LoadProfile(ctx, sessionID)
	if err != nil {
		return UserProfile{}, err
	}
	fn(&p)
	if err := m.SaveProfile(ctx, sessionID, p); err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

func logReadFailure(record, sessionID string, err error) {
	logger.WarnCF("session", "Session read failed, treating as fresh", map[string]interface{}{
		"record":     record,
		"session_id": sessionID,
		"error":      err.Error(),
	})
}
