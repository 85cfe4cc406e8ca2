package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotsetgreg/bmo/pkg/logger"
)

const maxCorpusBytes = 32 << 20

// Loader fetches corpora over HTTP. Accepted payloads are a HuggingFace
// datasets-server "rows" response, a JSON array of objects, or JSONL.
type Loader struct {
	client     *http.Client
	maxEntries int
}

func NewLoader(timeout time.Duration, maxEntries int) *Loader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Loader{
		client:     &http.Client{Timeout: timeout},
		maxEntries: maxEntries,
	}
}

// LoadDialogues never fails: on any fetch or parse error, or an empty
// result, it returns the built-in set with LoadFallback status.
func (l *Loader) LoadDialogues(ctx context.Context, url string) *Dialogues {
	rows, err := l.fetchRows(ctx, url)
	var examples []DialogueExample
	if err == nil {
		for _, r := range rows {
			ex := DialogueExample{
				Text:     r.str("text", "utterance", "sentence", "dialogue"),
				Speaker:  r.str("speaker", "role"),
				Intent:   r.str("intent", "label"),
				Entities: r.entities("entities", "slots"),
				Split:    r.str("split", "partition"),
			}
			if strings.TrimSpace(ex.Text) == "" {
				continue
			}
			examples = append(examples, ex)
			if l.maxEntries > 0 && len(examples) >= l.maxEntries {
				break
			}
		}
		if len(examples) == 0 {
			err = fmt.Errorf("no usable dialogue rows")
		}
	}
	if err != nil {
		logCorpusFallback("dialogues", url, err)
		return NewDialogues(builtinDialogues(), LoadFallback, "builtin")
	}
	logger.InfoCF("corpus", "Dialogue corpus loaded", map[string]interface{}{
		"entries": len(examples),
		"source":  url,
	})
	return NewDialogues(examples, LoadPrimary, url)
}

// LoadProverbs has the same fallback discipline as LoadDialogues.
func (l *Loader) LoadProverbs(ctx context.Context, url string) *Proverbs {
	rows, err := l.fetchRows(ctx, url)
	var items []Proverb
	if err == nil {
		for _, r := range rows {
			p := Proverb{
				Text:     r.str("text", "proverb", "sentence"),
				Theme:    strings.ToLower(r.str("theme", "topic", "category")),
				Split:    r.str("split", "partition"),
				ImageRef: r.str("image_ref", "image", "image_url"),
			}
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			items = append(items, p)
			if l.maxEntries > 0 && len(items) >= l.maxEntries {
				break
			}
		}
		if len(items) == 0 {
			err = fmt.Errorf("no usable proverb rows")
		}
	}
	if err != nil {
		logCorpusFallback("proverbs", url, err)
		return NewProverbs(builtinProverbs(), LoadFallback, "builtin")
	}
	logger.InfoCF("corpus", "Proverb corpus loaded", map[string]interface{}{
		"entries": len(items),
		"source":  url,
	})
	return NewProverbs(items, LoadPrimary, url)
}

func logCorpusFallback(kind, url string, err error) {
	logger.WarnCF("corpus", "Corpus unavailable, using built-in set", map[string]interface{}{
		"corpus": kind,
		"source": url,
		"error":  err.Error(),
	})
}

type row map[string]interface{}

func (r row) str(keys ...string) string {
	for _, k := range keys {
		v, ok := r[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if val != "" {
				return val
			}
		case float64:
			return fmt.Sprintf("%g", val)
		case map[string]interface{}:
			// HuggingFace image features: {"src": "...", "path": "..."}
			for _, nk := range []string{"src", "path", "url"} {
				if s, ok := val[nk].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func (r row) entities(keys ...string) map[string]string {
	for _, k := range keys {
		raw, ok := r[k]
		if !ok {
			continue
		}
		switch val := raw.(type) {
		case map[string]interface{}:
			out := make(map[string]string, len(val))
			for ek, ev := range val {
				out[ek] = fmt.Sprint(ev)
			}
			return out
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(val), &m); err == nil {
				return row{k: m}.entities(k)
			}
		}
	}
	return nil
}

func (l *Loader) fetchRows(ctx context.Context, url string) ([]row, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("corpus url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch corpus: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch corpus: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCorpusBytes))
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return parseRows(body)
}

func parseRows(body []byte) ([]row, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty corpus payload")
	}
	switch trimmed[0] {
	case '[':
		var rows []row
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("parse corpus array: %w", err)
		}
		return rows, nil
	case '{':
		var envelope struct {
			Rows []struct {
				Row row `json:"row"`
			} `json:"rows"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Rows) > 0 {
			rows := make([]row, 0, len(envelope.Rows))
			for _, r := range envelope.Rows {
				rows = append(rows, r.Row)
			}
			return rows, nil
		}
		return parseJSONL(trimmed)
	default:
		return nil, fmt.Errorf("unrecognized corpus format")
	}
}

func parseJSONL(body []byte) ([]row, error) {
	var rows []row
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var r row
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, fmt.Errorf("parse corpus line %d: %w", line, err)
		}
		rows = append(rows, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
