package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/loykin/botkeeper/internal/history"
)

// DefaultIndex is used when the DSN names no index.
const DefaultIndex = "worker-history"

// Sink stores events in an OpenSearch (or Elasticsearch) index via HTTP.
// Documents are POSTed to baseURL/index/_doc and read back with _search.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	if index == "" {
		index = DefaultIndex
	}
	c := &http.Client{Timeout: 5 * time.Second}
	return &Sink{client: c, baseURL: strings.TrimRight(baseURL, "/"), index: index}
}

// Send indexes e. The write waits for a refresh so Recent sees it.
func (s *Sink) Send(ctx context.Context, e history.Event) error {
	e.OccurredAt = e.OccurredAt.UTC()
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	resp, err := s.post(ctx, fmt.Sprintf("%s/%s/_doc?refresh=wait_for", s.baseURL, s.index), b)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

// Recent returns up to limit events, newest first. A missing index yields
// no events.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query, _ := sjson.Set(`{}`, "size", limit)
	query, _ = sjson.SetRaw(query, "sort", `[{"occurred_at":{"order":"desc"}}]`)

	resp, err := s.post(ctx, fmt.Sprintf("%s/%s/_search", s.baseURL, s.index), []byte(query))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return []history.Event{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("opensearch search status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out []history.Event
	for _, hit := range gjson.GetBytes(body, "hits.hits.#._source").Array() {
		var e history.Event
		if err := json.Unmarshal([]byte(hit.Raw), &e); err != nil {
			return nil, fmt.Errorf("decode history document: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Sink) Close() error { return nil }

func (s *Sink) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}
