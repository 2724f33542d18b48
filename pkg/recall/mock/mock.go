// Package mock provides an in-memory test double for [recall.Index].
//
// The mock records every call for assertion in tests and exposes exported
// fields that control what it returns. Safe for concurrent use via an
// internal [sync.Mutex].
package mock

import (
	"context"
	"math"
	"sync"

	"github.com/MrWong99/singer-orchestrator/pkg/recall"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Index is an in-memory [recall.Index] test double.
type Index struct {
	mu      sync.Mutex
	calls   []Call
	records map[string]recall.Record

	// SearchResult, if non-nil, is returned verbatim by Search instead of
	// scanning records.
	SearchResult []recall.Match

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// IndexRequestErr, if non-nil, is returned by IndexRequest.
	IndexRequestErr error
}

// NewIndex returns an empty mock index.
func NewIndex() *Index {
	return &Index{records: make(map[string]recall.Record)}
}

func (m *Index) record(method string, args ...any) {
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// CallCount returns how many times method was invoked.
func (m *Index) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// IndexRequest implements [recall.Index].
func (m *Index) IndexRequest(_ context.Context, rec recall.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("IndexRequest", rec)
	if m.IndexRequestErr != nil {
		return m.IndexRequestErr
	}
	m.records[rec.ID] = rec
	return nil
}

// Search implements [recall.Index]. If SearchResult or SearchErr is set,
// it is returned directly; otherwise Search performs a naive in-memory
// cosine-distance scan over indexed records, filtered by filter.UserID.
func (m *Index) Search(_ context.Context, embedding []float32, topK int, filter recall.Filter) ([]recall.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Search", embedding, topK, filter)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult != nil {
		return m.SearchResult, nil
	}

	matches := make([]recall.Match, 0, len(m.records))
	for _, rec := range m.records {
		if filter.UserID != "" && rec.UserID != filter.UserID {
			continue
		}
		matches = append(matches, recall.Match{Record: rec, Distance: cosineDistance(embedding, rec.Embedding)})
	}
	sortByDistance(matches)
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func sortByDistance(matches []recall.Match) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Distance < matches[j-1].Distance; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

var _ recall.Index = (*Index)(nil)
