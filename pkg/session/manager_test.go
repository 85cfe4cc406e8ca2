package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/store"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

func (brokenStore) Close() error { return nil }

// ttlStore records the ttl of each write.
type ttlStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func newTTLStore() *ttlStore {
	return &ttlStore{MemoryStore: store.NewMemoryStore(), ttls: map[string]time.Duration{}}
}

func (s *ttlStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.ttls[key] = ttl
	s.mu.Unlock()
	return s.MemoryStore.SetWithTTL(ctx, key, value, ttl)
}

func TestFreshSessionDefaults(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	h, err := m.LoadHistory(ctx, "never-seen")
	require.NoError(t, err)
	assert.Empty(t, h)

	p, err := m.LoadProfile(ctx, "never-seen")
	require.NoError(t, err)
	assert.Equal(t, "Friend", p.Name)
	assert.Equal(t, 0, p.InteractionCount)
	assert.Empty(t, p.EmotionHistory)
	assert.NotNil(t, p.Preferences)
}

func TestAppendAndSave_RoundTripAndTruncation(t *testing.T) {
	s := newTTLStore()
	m := NewManager(s)
	ctx := context.Background()

	var written []Turn
	for i := 0; i < 27; i++ {
		turn := Turn{Role: RoleUser, Content: fmt.Sprintf("message %d", i)}
		if i%2 == 1 {
			turn.Role = RoleAssistant
		}
		written = append(written, turn)
		_, err := m.AppendAndSave(ctx, "s1", turn)
		require.NoError(t, err)

		loaded, err := m.LoadHistory(ctx, "s1")
		require.NoError(t, err)
		n := len(written)
		if n > MaxHistory {
			n = MaxHistory
		}
		require.Len(t, loaded, n)
		assert.Equal(t, History(written[len(written)-n:]), loaded)
	}

	loaded, _ := m.LoadHistory(ctx, "s1")
	assert.Equal(t, "message 7", loaded[0].Content, "entries beyond the newest 20 must be dropped")
	assert.Equal(t, HistoryTTL, s.ttls[store.ConversationKey("s1")])
}

func TestAppendAndSave_MultipleTurns(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	h, err := m.AppendAndSave(context.Background(), "s", Turn{Role: RoleUser, Content: "hi"}, Turn{Role: RoleAssistant, Content: "hello"})
	require.NoError(t, err)
	assert.Len(t, h, 2)
	assert.Equal(t, History{{Role: RoleAssistant, Content: "hello"}}, h.Last(1))
}

func TestSaveHistory_OverwritesUnreadableRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SetWithTTL(ctx, store.ConversationKey("s"), []byte("{not json"), 0))
	m := NewManager(s)

	_, err := m.AppendAndSave(ctx, "s", Turn{Role: RoleUser, Content: "hi"})
	require.Error(t, err)

	h, err := m.SaveHistory(ctx, "s", History{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Len(t, h, 1)
	loaded, err := m.LoadHistory(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, h, loaded)
}

func TestSaveProfile_RoundTrip(t *testing.T) {
	s := newTTLStore()
	m := NewManager(s)
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	p := DefaultProfile()
	p.InteractionCount = 3
	p.RecordEmotion(classifier.Grateful, 1.0, at)
	require.NoError(t, m.SaveProfile(ctx, "u", p))

	got, err := m.LoadProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 3, got.InteractionCount)
	last, ok := got.LastEmotion()
	require.True(t, ok)
	assert.Equal(t, classifier.Grateful, last.Emotion)
	assert.True(t, last.At.Equal(at))
	assert.False(t, got.UpdatedAt.IsZero())
	assert.Equal(t, ProfileTTL, s.ttls[store.ProfileKey("u")])
}

func TestRecordEmotion_Capped(t *testing.T) {
	p := DefaultProfile()
	for i := 0; i < MaxEmotionHistory+5; i++ {
		p.RecordEmotion(classifier.Happy, float64(i), time.Time{})
	}
	require.Len(t, p.EmotionHistory, MaxEmotionHistory)
	assert.Equal(t, 5.0, p.EmotionHistory[0].Confidence)
}

func TestProfileMutators(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	p, err := m.SetName(ctx, "u", "  Amira ")
	require.NoError(t, err)
	assert.Equal(t, "Amira", p.Name)

	_, err = m.Learn(ctx, "u", "music", "prefers mezoued over rap")
	require.NoError(t, err)
	p, err = m.Learn(ctx, "u", "", "lives in Sfax")
	require.NoError(t, err)
	assert.Equal(t, "- music: prefers mezoued over rap\n- lives in Sfax", p.Learned)

	_, err = m.SetPreference(ctx, "u", "language", "fr")
	require.NoError(t, err)
	p, err = m.SetPreference(ctx, "u", "team", "Espérance")
	require.NoError(t, err)
	assert.Equal(t, "fr", p.Language)
	assert.Equal(t, "Espérance", p.Preferences["team"])

	p, err = m.SetPreference(ctx, "u", "team", "")
	require.NoError(t, err)
	_, ok := p.Preferences["team"]
	assert.False(t, ok)

	loaded, err := m.LoadProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Amira", loaded.Name)
	assert.Equal(t, "fr", loaded.Language)

	_, err = m.SetName(ctx, "u", " ")
	assert.Error(t, err)
	_, err = m.Learn(ctx, "u", "x", "")
	assert.Error(t, err)
}

func TestStoreUnavailable(t *testing.T) {
	m := NewManager(brokenStore{})
	ctx := context.Background()

	h, err := m.LoadHistory(ctx, "s")
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.Empty(t, h)

	p, err := m.LoadProfile(ctx, "s")
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.Equal(t, DefaultName, p.Name)

	_, err = m.AppendAndSave(ctx, "s", Turn{Role: RoleUser, Content: "x"})
	assert.True(t, errors.Is(err, store.ErrUnavailable))

	_, err = m.SetName(ctx, "s", "Amira")
	assert.Error(t, err)
}

func TestCorruptRecordsTreatedAsFresh(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SetWithTTL(ctx, store.ConversationKey("s"), []byte("{not json"), time.Hour))
	require.NoError(t, s.SetWithTTL(ctx, store.ProfileKey("s"), []byte("[]"), time.Hour))

	m := NewManager(s)
	h, err := m.LoadHistory(ctx, "s")
	assert.Error(t, err)
	assert.Empty(t, h)

	p, err := m.LoadProfile(ctx, "s")
	assert.Error(t, err)
	assert.Equal(t, DefaultName, p.Name)
}

func TestLock_SerializesSameSession(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("shared")
			defer unlock()
			p, _ := m.LoadProfile(ctx, "shared")
			p.InteractionCount++
			_ = m.SaveProfile(ctx, "shared", p)
		}()
	}
	wg.Wait()

	p, err := m.LoadProfile(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 20, p.InteractionCount, "no increment may be lost under the session lock")
	assert.Equal(t, 0, m.locks.size())
}

func TestLock_UnlockIsIdempotent(t *testing.T) {
	m := NewManager(store.NewMemoryStore())
	unlock := m.Lock("a")
	unlock()
	unlock()
	assert.Equal(t, 0, m.locks.size())
}

func TestHistoryLast(t *testing.T) {
	h := History{{Content: "1"}, {Content: "2"}, {Content: "3"}}
	assert.Len(t, h.Last(6), 3)
	assert.Equal(t, "3", h.Last(1)[0].Content)
	assert.Nil(t, h.Last(0))
}
