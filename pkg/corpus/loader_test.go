package corpus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestLoadDialogues_HuggingFaceRows(t *testing.T) {
	url := serve(t, http.StatusOK, `{
		"features": [],
		"rows": [
			{"row_idx": 0, "row": {"text": "وين الميترو؟", "speaker": "user", "intent": "transport", "entities": {"place": "metro"}, "split": "train"}},
			{"row_idx": 1, "row": {"text": "", "intent": "noise"}},
			{"row_idx": 2, "row": {"utterance": "merci", "role": "user", "label": "gratitude", "entities": "{\"count\": 1}"}}
		]
	}`)

	d := NewLoader(time.Second, 0).LoadDialogues(context.Background(), url)
	require.Equal(t, LoadPrimary, d.Status())
	require.Equal(t, 2, d.Len())

	first := d.At(0)
	assert.Equal(t, "وين الميترو؟", first.Text)
	assert.Equal(t, "transport", first.Intent)
	assert.Equal(t, map[string]string{"place": "metro"}, first.Entities)
	assert.Equal(t, "train", first.Split)

	second := d.At(1)
	assert.Equal(t, "merci", second.Text)
	assert.Equal(t, "gratitude", second.Intent)
	assert.Equal(t, "1", second.Entities["count"])
}

func TestLoadDialogues_JSONLAndMaxEntries(t *testing.T) {
	url := serve(t, http.StatusOK, `{"text":"a"}
{"text":"b"}

{"text":"c"}`)
	d := NewLoader(time.Second, 2).LoadDialogues(context.Background(), url)
	require.Equal(t, LoadPrimary, d.Status())
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "b", d.At(1).Text)
}

func TestLoadDialogues_FallbackOnFailure(t *testing.T) {
	cases := map[string]string{
		"http error": serve(t, http.StatusInternalServerError, "boom"),
		"bad json":   serve(t, http.StatusOK, "[{"),
		"no rows":    serve(t, http.StatusOK, `[]`),
		"no url":     "",
	}
	for name, url := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewLoader(time.Second, 0).LoadDialogues(context.Background(), url)
			assert.Equal(t, LoadFallback, d.Status())
			assert.Equal(t, "builtin", d.Source())
			assert.GreaterOrEqual(t, d.Len(), 4)
			assert.LessOrEqual(t, d.Len(), 8)
		})
	}
}

func TestLoadProverbs_ArrayWithImages(t *testing.T) {
	url := serve(t, http.StatusOK, `[
		{"proverb": "اللي صبر ظفر", "theme": "Patience", "image": {"src": "https://img/patience.png"}},
		{"text": "الصاحب وقت الضيق", "topic": "friendship"}
	]`)
	p := NewLoader(time.Second, 0).LoadProverbs(context.Background(), url)
	require.Equal(t, LoadPrimary, p.Status())
	require.Equal(t, 2, p.Len())
	assert.Equal(t, "patience", p.At(0).Theme)

	img, ok := p.ImageFor("اللي صبر ظفر")
	assert.True(t, ok)
	assert.Equal(t, "https://img/patience.png", img)

	_, ok = p.ImageFor("الصاحب وقت الضيق")
	assert.False(t, ok)
}

func TestLoadProverbs_Fallback(t *testing.T) {
	p := NewLoader(time.Second, 0).LoadProverbs(context.Background(), serve(t, http.StatusNotFound, ""))
	assert.Equal(t, LoadFallback, p.Status())
	assert.GreaterOrEqual(t, p.Len(), 4)
	assert.LessOrEqual(t, p.Len(), 8)

	img, ok := p.ImageFor("الصبر مفتاح الفرج")
	assert.True(t, ok)
	assert.NotEmpty(t, img)
}

func TestNilCorporaAreEmpty(t *testing.T) {
	var d *Dialogues
	var p *Proverbs
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0, p.Len())
	_, ok := p.ImageFor("x")
	assert.False(t, ok)
}
