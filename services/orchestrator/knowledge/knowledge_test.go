// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Fakes
// =============================================================================

// fakeWeaviate serves the subset of the Weaviate REST API the package uses.
type fakeWeaviate struct {
	mu          sync.Mutex
	passages    []string
	graphqlErr  string
	graphqlHits int
	classes     map[string]bool
	batches     [][]map[string]interface{}
	rejectIndex int
	failBatch   bool
}

func newFakeWeaviate() *fakeWeaviate {
	return &fakeWeaviate{classes: map[string]bool{}, rejectIndex: -1}
}

func (f *fakeWeaviate) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/meta", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.35.2"})
	})
	mux.HandleFunc("/v1/.well-known/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/graphql", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.graphqlHits++
		if f.graphqlErr != "" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": []map[string]string{{"message": f.graphqlErr}},
			})
			return
		}
		objects := make([]map[string]interface{}, 0, len(f.passages))
		for i, p := range f.passages {
			objects = append(objects, map[string]interface{}{
				"content":     p,
				"source":      "doc.md",
				"_additional": map[string]interface{}{"certainty": 0.9 - float64(i)*0.1},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"Get": map[string]interface{}{DefaultClass: objects}},
		})
	})
	mux.HandleFunc("/v1/schema", func(w http.ResponseWriter, r *http.Request) {
		var class models.Class
		require.NoError(t, json.NewDecoder(r.Body).Decode(&class))
		f.mu.Lock()
		f.classes[class.Class] = true
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(class)
	})
	mux.HandleFunc("/v1/schema/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/v1/schema/")
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodDelete:
			delete(f.classes, name)
			w.WriteHeader(http.StatusOK)
		default:
			if !f.classes[name] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(ChunkSchema(name))
		}
	})
	mux.HandleFunc("/v1/batch/objects", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failBatch {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":[{"message":"invalid batch"}]}`))
			return
		}
		var body struct {
			Objects []map[string]interface{} `json:"objects"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.batches = append(f.batches, body.Objects)
		out := make([]map[string]interface{}, len(body.Objects))
		for i, obj := range body.Objects {
			result := map[string]interface{}{"status": "SUCCESS"}
			if i == f.rejectIndex {
				result = map[string]interface{}{
					"status": "FAILED",
					"errors": map[string]interface{}{"error": []map[string]string{{"message": "bad vector"}}},
				}
			}
			out[i] = map[string]interface{}{"id": obj["id"], "class": obj["class"], "result": result}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

func (f *fakeWeaviate) objects() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []map[string]interface{}
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

// fakeEmbedder returns a two-dimensional vector per text.
type fakeEmbedder struct {
	calls    atomic.Int32
	err      error
	short    bool
	honorCtx bool
	release  chan struct{}
	entered  chan struct{}
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.entered != nil {
		select {
		case e.entered <- struct{}{}:
		default:
		}
	}
	if e.release != nil {
		if e.honorCtx {
			select {
			case <-e.release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			<-e.release
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func newTestClient(t *testing.T, fake *fakeWeaviate) *Client {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig()
	cfg.URL = srv.URL
	cfg.RetryAttempts = 0
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

// =============================================================================
// Client
// =============================================================================

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{URL: "not a url"})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{URL: "http://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, DefaultClass, c.Class())
	assert.Equal(t, BreakerClosed, c.State())
}

func TestClient_Ready(t *testing.T) {
	c := newTestClient(t, newFakeWeaviate())
	assert.NoError(t, c.Ready(context.Background()))
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	c, err := NewClient(ClientConfig{URL: "http://localhost:8080", RetryAttempts: 2})
	require.NoError(t, err)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	attempts := 0
	err = c.Execute(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Len(t, slept, 2)
}

func TestClient_DoesNotRetryPermanentErrors(t *testing.T) {
	c, err := NewClient(ClientConfig{URL: "http://localhost:8080", RetryAttempts: 3})
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	attempts := 0
	permanent := errors.New("class not found")
	err = c.Execute(context.Background(), "test", func(context.Context) error {
		attempts++
		return permanent
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsSearchError(err))
	assert.ErrorIs(t, err, permanent)

	var se *SearchError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Retryable)
	assert.Equal(t, "test", se.Op)
}

func TestClient_BreakerOpensAndRecovers(t *testing.T) {
	c, err := NewClient(ClientConfig{
		URL:              "http://localhost:8080",
		CircuitThreshold: 2,
		CircuitCooldown:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	fail := func(context.Context) error { return errors.New("boom") }
	_ = c.Execute(context.Background(), "test", fail)
	assert.Equal(t, BreakerClosed, c.State())
	_ = c.Execute(context.Background(), "test", fail)
	assert.Equal(t, BreakerOpen, c.State())

	called := false
	err = c.Execute(context.Background(), "test", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	err = c.Execute(context.Background(), "test", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, c.State())
}

func TestClient_FailedProbeReopens(t *testing.T) {
	c, err := NewClient(ClientConfig{
		URL:              "http://localhost:8080",
		CircuitThreshold: 1,
		CircuitCooldown:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	fail := func(context.Context) error { return errors.New("boom") }
	_ = c.Execute(context.Background(), "test", fail)
	require.Equal(t, BreakerOpen, c.State())

	time.Sleep(20 * time.Millisecond)
	_ = c.Execute(context.Background(), "test", fail)
	assert.Equal(t, BreakerOpen, c.State())
}

func TestClient_CancelledDuringBackoff(t *testing.T) {
	c, err := NewClient(ClientConfig{URL: "http://localhost:8080", RetryAttempts: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.Execute(ctx, "test", func(context.Context) error { return context.DeadlineExceeded })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_CappedWithJitter(t *testing.T) {
	c, err := NewClient(ClientConfig{
		URL:             "http://localhost:8080",
		RetryBackoff:    time.Second,
		MaxRetryBackoff: 4 * time.Second,
		RetryJitter:     0.25,
	})
	require.NoError(t, err)

	for attempt := 1; attempt <= 6; attempt++ {
		d := c.backoff(attempt)
		assert.LessOrEqual(t, d, 5*time.Second)
		assert.GreaterOrEqual(t, d, 750*time.Millisecond)
	}
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

// =============================================================================
// Store
// =============================================================================

func TestStore_Search(t *testing.T) {
	fake := newFakeWeaviate()
	fake.passages = []string{"Blink often.", "  ", "Use artificial tears.", "Take breaks."}
	emb := &fakeEmbedder{}
	store, err := NewStore(newTestClient(t, fake), emb, StoreOptions{MinCertainty: 0.5})
	require.NoError(t, err)

	got, err := store.Search(context.Background(), "dry eyes", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Blink often.", "Use artificial tears."}, got)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestStore_SearchValidation(t *testing.T) {
	store, err := NewStore(newTestClient(t, newFakeWeaviate()), &fakeEmbedder{}, StoreOptions{})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "   ", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = store.Search(context.Background(), "q", 0)
	assert.Error(t, err)
}

func TestStore_EmbedFailure(t *testing.T) {
	fake := newFakeWeaviate()
	emb := &fakeEmbedder{err: errors.New("model offline")}
	store, err := NewStore(newTestClient(t, fake), emb, StoreOptions{})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "dry eyes", 3)
	require.Error(t, err)
	assert.True(t, IsSearchError(err))
	assert.Zero(t, fake.graphqlHits)
}

func TestStore_GraphQLError(t *testing.T) {
	fake := newFakeWeaviate()
	fake.graphqlErr = "class EyeHealthChunk not found"
	store, err := NewStore(newTestClient(t, fake), &fakeEmbedder{}, StoreOptions{})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "dry eyes", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStore_EmptyResult(t *testing.T) {
	store, err := NewStore(newTestClient(t, newFakeWeaviate()), &fakeEmbedder{}, StoreOptions{})
	require.NoError(t, err)

	got, err := store.Search(context.Background(), "dry eyes", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_CoalescesIdenticalQueries(t *testing.T) {
	fake := newFakeWeaviate()
	fake.passages = []string{"Blink often."}
	emb := &fakeEmbedder{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	store, err := NewStore(newTestClient(t, fake), emb, StoreOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]string, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = store.Search(context.Background(), "dry eyes", 3)
		}(i)
		if i == 0 {
			<-emb.entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(emb.release)
	wg.Wait()

	assert.Equal(t, int32(1), emb.calls.Load())
	assert.Equal(t, results[0], results[1])
}

func TestStore_CoalescedSearchSurvivesFirstCallerCancel(t *testing.T) {
	fake := newFakeWeaviate()
	fake.passages = []string{"Blink often."}
	emb := &fakeEmbedder{release: make(chan struct{}), entered: make(chan struct{}, 1), honorCtx: true}
	store, err := NewStore(newTestClient(t, fake), emb, StoreOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.Search(ctx, "dry eyes", 3)
		firstErr <- err
	}()
	<-emb.entered

	type outcome struct {
		passages []string
		err      error
	}
	second := make(chan outcome, 1)
	go func() {
		passages, err := store.Search(context.Background(), "dry eyes", 3)
		second <- outcome{passages: passages, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(emb.release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []string{"Blink often."}, got.passages)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestStore_SharedSearchBoundedByTimeout(t *testing.T) {
	emb := &fakeEmbedder{release: make(chan struct{}), honorCtx: true}
	t.Cleanup(func() { close(emb.release) })
	store, err := NewStore(newTestClient(t, newFakeWeaviate()), emb, StoreOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = store.Search(context.Background(), "dry eyes", 3)
	require.Error(t, err)
	assert.True(t, IsSearchError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewStore_RequiresCollaborators(t *testing.T) {
	_, err := NewStore(nil, &fakeEmbedder{}, StoreOptions{})
	assert.Error(t, err)
	c, err := NewClient(ClientConfig{URL: "http://localhost:8080"})
	require.NoError(t, err)
	_, err = NewStore(c, nil, StoreOptions{})
	assert.Error(t, err)
}

func TestParsePassages_Malformed(t *testing.T) {
	assert.Nil(t, parsePassages(nil, DefaultClass, 3))
	assert.Nil(t, parsePassages(&models.GraphQLResponse{Data: map[string]models.JSONObject{}}, DefaultClass, 3))

	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]interface{}{DefaultClass: []interface{}{"junk", map[string]interface{}{"content": "ok"}}},
	}}
	assert.Equal(t, []string{"ok"}, parsePassages(resp, DefaultClass, 3))
}

// =============================================================================
// Schema
// =============================================================================

func TestChunkSchema(t *testing.T) {
	class := ChunkSchema("Custom")
	assert.Equal(t, "Custom", class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"content", "source", "chunk_index", "ingested_at"}, names)
}

func TestEnsureSchema_CreatesOnce(t *testing.T) {
	fake := newFakeWeaviate()
	c := newTestClient(t, fake)

	require.NoError(t, EnsureSchema(context.Background(), c))
	assert.True(t, fake.classes[DefaultClass])
	require.NoError(t, EnsureSchema(context.Background(), c))

	require.NoError(t, DropSchema(context.Background(), c))
	assert.False(t, fake.classes[DefaultClass])
}
