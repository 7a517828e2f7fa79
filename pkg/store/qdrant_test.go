package store

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/devrag/internal/apperr"
	"github.com/xhad/devrag/internal/types"
)

type fakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of Qdrant REST endpoints the store uses.
type fakeQdrant struct {
	mu          sync.Mutex
	size        int
	exists      bool
	points      map[string]fakePoint
	lastFilter  map[string]any
	apiKeysSeen []string
}

func newFakeQdrant(t *testing.T) *httptest.Server {
	f := &fakeQdrant{points: map[string]fakePoint{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeQdrant) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeysSeen = append(f.apiKeysSeen, r.Header.Get("api-key"))

	path := strings.TrimPrefix(r.URL.Path, "/collections/")
	name, rest, _ := strings.Cut(path, "/")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && rest == "":
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]any{"error": "Not found"}})
			return
		}
		writeResult(w, map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": f.size, "distance": "Cosine"}}},
		})

	case r.Method == http.MethodPut && rest == "":
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.exists, f.size = true, body.Vectors.Size
		writeResult(w, true)

	case r.Method == http.MethodPut && rest == "points":
		var body struct {
			Points []fakePoint `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		writeResult(w, map[string]any{"status": "completed"})

	case r.Method == http.MethodPost && rest == "points/query":
		var body struct {
			Query  []float32      `json:"query"`
			Limit  int            `json:"limit"`
			Filter map[string]any `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastFilter = body.Filter

		var hits []map[string]any
		for _, p := range f.points {
			if !matches(p.Payload, body.Filter) {
				continue
			}
			hits = append(hits, map[string]any{"id": p.ID, "score": cosine(body.Query, p.Vector), "payload": p.Payload})
		}
		// deliberately unsorted; the client ranks results
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		writeResult(w, map[string]any{"points": hits})

	default:
		http.NotFound(w, r)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func matches(payload map[string]any, filter map[string]any) bool {
	must, _ := filter["must"].([]any)
	for _, c := range must {
		cond := c.(map[string]any)
		key := cond["key"].(string)
		want := cond["match"].(map[string]any)["value"]
		if payload[key] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func TestQdrantStoreContract(t *testing.T) {
	runVectorStoreContract(t, func(t *testing.T) types.VectorStore {
		srv := newFakeQdrant(t)
		return NewQdrantStore(QdrantConfig{URL: srv.URL, BatchSize: 2})
	}, "devto_articles")
}

func TestQdrantTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewQdrantStore(QdrantConfig{URL: srv.URL})
	err := s.EnsureCollection(context.Background(), "devto_articles", 3, MetricCosine)
	assert.ErrorIs(t, err, apperr.ErrTransport)
}

func TestQdrantSendsAPIKeyAndFilter(t *testing.T) {
	f := &fakeQdrant{points: map[string]fakePoint{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	defer srv.Close()

	s := NewQdrantStore(QdrantConfig{URL: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, s.EnsureCollection(context.Background(), "devto_articles", 3, MetricCosine))

	_, err := s.Query(context.Background(), []float32{1, 0, 0}, 3, map[string]string{"url": "u", "article_id": "1"})
	require.NoError(t, err)

	for _, key := range f.apiKeysSeen {
		assert.Equal(t, "secret", key)
	}
	must := f.lastFilter["must"].([]any)
	require.Len(t, must, 2)
	assert.Equal(t, "article_id", must[0].(map[string]any)["key"])
	assert.Equal(t, "url", must[1].(map[string]any)["key"])
}
