package vectorstore

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gonum.org/v1/gonum/floats"

	"aletheia/models"
	"aletheia/ports"
)

// Dimensions of the hashed term space
const Dimensions = 512

type entry struct {
	evidence models.Evidence
	vector   []float64
}

// MemoryStore is an in-process VectorStorePort using hashed term-frequency
// vectors and cosine similarity. Entries are keyed by content hash.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

func terms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Embed maps text into the hashed term space, L2-normalised
func Embed(text string) []float64 {
	v := make([]float64, Dimensions)
	for _, term := range terms(text) {
		if len(term) < 3 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		v[h.Sum32()%Dimensions]++
	}
	if norm := floats.Norm(v, 2); norm > 0 {
		floats.Scale(1/norm, v)
	}
	return v
}

func (s *MemoryStore) Upsert(_ context.Context, evidence []models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range evidence {
		key := ev.ContentHash
		if key == "" {
			key = models.ContentHash(ev.Source.URL, ev.Excerpt)
		}
		if _, ok := s.entries[key]; !ok {
			s.order = append(s.order, key)
		}
		s.entries[key] = entry{evidence: ev.Copy(), vector: Embed(ev.Source.Title + " " + ev.Excerpt)}
	}
	return nil
}

// Query returns up to k entries with positive similarity, most similar first
func (s *MemoryStore) Query(_ context.Context, text string, k int) ([]ports.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	q := Embed(text)
	if floats.Norm(q, 2) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	hits := make([]ports.VectorHit, 0, len(s.entries))
	for _, key := range s.order {
		e := s.entries[key]
		sim := floats.Dot(q, e.vector)
		if sim <= 0 {
			continue
		}
		hits = append(hits, ports.VectorHit{Evidence: e.evidence.Copy(), Similarity: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports the number of stored entries
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
