// Package graphmem is an in-memory GraphStore implementation. The real
// graph database is an external collaborator this module never depends
// on directly; this package is a dependency-free double exercised
// directly by unit tests and usable as a local/dev backend.
package graphmem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/graph"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/schema"
	"github.com/DayDreamerAI/daydreamer-memory/internal/port/outbound"
)

// Store is a thread-safe, process-local graph. A single RWMutex guards all
// state; transactions take a full write lock for their duration.
type Store struct {
	mu sync.RWMutex

	entities      map[string]*graph.Entity
	observations  map[string]*graph.Observation // id -> observation
	obsByEntity   map[string][]string           // entity name -> observation ids
	obsDay        map[string]string              // observation id -> day key
	days          map[string]*graph.Day
	months        map[string]*graph.Month
	years         map[string]*graph.Year
	dayMonth      map[string]string // day key -> month key
	monthYear     map[string]int    // month key -> year
	sessions      map[string]*graph.ConversationSession
	sessionEdges  map[string][]string // session id -> entity names (CONVERSATION_SESSION_ADDED_OBSERVATION)
	relations     map[string][]relation
	communities   []graph.CommunitySummary
}

type relation struct {
	from, relType, to string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entities:     make(map[string]*graph.Entity),
		observations: make(map[string]*graph.Observation),
		obsByEntity:  make(map[string][]string),
		obsDay:       make(map[string]string),
		days:         make(map[string]*graph.Day),
		months:       make(map[string]*graph.Month),
		years:        make(map[string]*graph.Year),
		dayMonth:     make(map[string]string),
		monthYear:    make(map[string]int),
		sessions:     make(map[string]*graph.ConversationSession),
		sessionEdges: make(map[string][]string),
		relations:    make(map[string][]relation),
	}
}

var _ outbound.GraphStore = (*Store)(nil)

// SeedCommunities installs CommunitySummary fixtures for graphrag_global_search
// tests; community detection itself runs outside this module.
func (s *Store) SeedCommunities(cs []graph.CommunitySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities = cs
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(ctx context.Context) error { return nil }

// BeginTx takes the store's write lock for the lifetime of the transaction
// and snapshots all state so Rollback can restore it.
func (s *Store) BeginTx(ctx context.Context) (outbound.Tx, error) {
	s.mu.Lock()
	return &tx{store: s, ctx: ctx, snapshot: s.snapshot()}, nil
}

type tx struct {
	store    *Store
	ctx      context.Context
	done     bool
	snapshot *storeState
}

// storeState is a deep copy of every mutable map in the store, taken at
// BeginTx while the write lock is held.
type storeState struct {
	entities     map[string]*graph.Entity
	observations map[string]*graph.Observation
	obsByEntity  map[string][]string
	obsDay       map[string]string
	days         map[string]*graph.Day
	months       map[string]*graph.Month
	years        map[string]*graph.Year
	dayMonth     map[string]string
	monthYear    map[string]int
	sessions     map[string]*graph.ConversationSession
	sessionEdges map[string][]string
	relations    map[string][]relation
}

func (s *Store) snapshot() *storeState {
	return &storeState{
		entities:     copyPtrMap(s.entities),
		observations: copyPtrMap(s.observations),
		obsByEntity:  copySliceMap(s.obsByEntity),
		obsDay:       copyValMap(s.obsDay),
		days:         copyPtrMap(s.days),
		months:       copyPtrMap(s.months),
		years:        copyPtrMap(s.years),
		dayMonth:     copyValMap(s.dayMonth),
		monthYear:    copyValMap(s.monthYear),
		sessions:     copyPtrMap(s.sessions),
		sessionEdges: copySliceMap(s.sessionEdges),
		relations:    copySliceMap(s.relations),
	}
}

func (s *Store) restore(snap *storeState) {
	s.entities = snap.entities
	s.observations = snap.observations
	s.obsByEntity = snap.obsByEntity
	s.obsDay = snap.obsDay
	s.days = snap.days
	s.months = snap.months
	s.years = snap.years
	s.dayMonth = snap.dayMonth
	s.monthYear = snap.monthYear
	s.sessions = snap.sessions
	s.sessionEdges = snap.sessionEdges
	s.relations = snap.relations
}

func copyPtrMap[V any](in map[string]*V) map[string]*V {
	out := make(map[string]*V, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}

func copyValMap[V string | int](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copySliceMap[V any](in map[string][]V) map[string][]V {
	out := make(map[string][]V, len(in))
	for k, v := range in {
		out[k] = append([]V(nil), v...)
	}
	return out
}

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.store.mu.Unlock()
	}
}

func (t *tx) Commit(ctx context.Context) error {
	t.snapshot = nil
	t.finish()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if !t.done && t.snapshot != nil {
		t.store.restore(t.snapshot)
		t.snapshot = nil
	}
	t.finish()
	return nil
}

func (t *tx) MergeEntity(ctx context.Context, e graph.Entity) error {
	s := t.store
	if existing, ok := s.entities[e.Name]; ok {
		// Entity attributes are not mutated on re-merge.
		if e.HasEmbedding {
			existing.HasEmbedding = true
		}
		return nil
	}
	cp := e
	s.entities[e.Name] = &cp
	return nil
}

func (t *tx) MergeTemporalHierarchy(ctx context.Context, when time.Time) error {
	s := t.store
	dayKey := graph.DayKey(when)
	monthKey := graph.MonthKey(when)
	year := graph.YearKey(when)

	if _, ok := s.years[fmt.Sprint(year)]; !ok {
		s.years[fmt.Sprint(year)] = &graph.Year{Year: year}
	}
	if _, ok := s.months[monthKey]; !ok {
		s.months[monthKey] = &graph.Month{Date: monthKey}
		s.monthYear[monthKey] = year
	}
	if _, ok := s.days[dayKey]; !ok {
		s.days[dayKey] = &graph.Day{Date: dayKey}
		s.dayMonth[dayKey] = monthKey
	}
	return nil
}

func (t *tx) CreateObservation(ctx context.Context, w outbound.ObservationWrite) error {
	s := t.store
	if _, ok := s.entities[w.EntityName]; !ok {
		return fmt.Errorf("%w: %s", outbound.ErrEntityNotFound, w.EntityName)
	}
	obs := w.Observation
	s.observations[obs.ID] = &obs
	s.obsByEntity[w.EntityName] = append(s.obsByEntity[w.EntityName], obs.ID)
	dayKey := graph.DayKey(obs.CreatedAt)
	s.obsDay[obs.ID] = dayKey
	if w.Conversation != "" {
		if _, ok := s.sessions[w.Conversation]; !ok {
			s.sessions[w.Conversation] = &graph.ConversationSession{
				SessionID: w.Conversation,
				CreatedAt: obs.CreatedAt,
			}
		}
		s.sessionEdges[w.Conversation] = append(s.sessionEdges[w.Conversation], w.EntityName)
	}
	return nil
}

func (t *tx) CreateRelation(ctx context.Context, from, relType, to string) error {
	s := t.store
	if _, ok := s.entities[from]; !ok {
		return fmt.Errorf("%w: %s", outbound.ErrEntityNotFound, from)
	}
	if _, ok := s.entities[to]; !ok {
		return fmt.Errorf("%w: %s", outbound.ErrEntityNotFound, to)
	}
	if schema.IsProtectedRelationship(relType) {
		return fmt.Errorf("relationship type %q is protected", relType)
	}
	// MERGE semantics: idempotent, no duplicate edge.
	for _, r := range s.relations[from] {
		if r.relType == relType && r.to == to {
			return nil
		}
	}
	s.relations[from] = append(s.relations[from], relation{from: from, relType: relType, to: to})
	return nil
}

// SearchNodes performs an exact, case-insensitive name match. This store
// keeps no aliases, so only entity names are compared.
func (s *Store) SearchNodes(ctx context.Context, query string, limit int) ([]graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Entity
	for _, e := range s.entities {
		if strings.EqualFold(e.Name, query) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchNodesByVector ranks entities by their best cosine similarity over
// all of their embedded observations, widening the candidate pool by
// scanMultiplier before ranking.
func (s *Store) SearchNodesByVector(ctx context.Context, vector []float32, limit, scanMultiplier int) ([]outbound.ScoredEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidatePool := limit * scanMultiplier
	type cand struct {
		name string
		vec  []float32
	}
	var candidates []cand
	for name, ids := range s.obsByEntity {
		for _, id := range ids {
			if obs, ok := s.observations[id]; ok && obs.HasEmbedding {
				candidates = append(candidates, cand{name: name, vec: obs.Embedding})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].name < candidates[j].name })
	if candidatePool > 0 && len(candidates) > candidatePool {
		candidates = candidates[:candidatePool]
	}

	scored := make(map[string]float32)
	for _, c := range candidates {
		score := cosineSimilarity(vector, c.vec)
		if score > scored[c.name] {
			scored[c.name] = score
		}
	}

	var out []outbound.ScoredEntity
	for name, score := range scored {
		e, ok := s.entities[name]
		if !ok {
			continue
		}
		out = append(out, outbound.ScoredEntity{Entity: *e, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (sqrt(na) * sqrt(nb)))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func (s *Store) Stats(ctx context.Context) (outbound.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	themeDist := make(map[string]int)
	embedded := 0
	for _, o := range s.observations {
		themeDist[o.SemanticTheme]++
		if o.HasEmbedding {
			embedded++
		}
	}
	coverage := 0.0
	if len(s.observations) > 0 {
		coverage = float64(embedded) / float64(len(s.observations))
	}
	return outbound.Stats{
		EntityCount:        len(s.entities),
		ObservationCount:   len(s.observations),
		EmbeddingCoverage:  coverage,
		ActiveSessionCount: len(s.sessions),
		ThemeDistribution:  themeDist,
	}, nil
}

func (s *Store) SearchObservations(ctx context.Context, filter outbound.ObservationFilter) ([]graph.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.Observation
	for name, ids := range s.obsByEntity {
		if filter.EntityName != "" && !strings.EqualFold(name, filter.EntityName) {
			continue
		}
		for _, id := range ids {
			o, ok := s.observations[id]
			if !ok {
				continue
			}
			if filter.Theme != "" && o.SemanticTheme != filter.Theme {
				continue
			}
			dayKey := graph.DayKey(o.CreatedAt)
			if filter.DateFrom != "" && dayKey < filter.DateFrom {
				continue
			}
			if filter.DateTo != "" && dayKey > filter.DateTo {
				continue
			}
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SearchConversations(ctx context.Context, query string, limit int) ([]graph.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.ConversationSession
	q := strings.ToLower(query)
	for _, sess := range s.sessions {
		if q == "" || strings.Contains(strings.ToLower(sess.Context), q) || strings.Contains(strings.ToLower(sess.Source), q) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TraceEntityOrigin(ctx context.Context, entityName string) ([]graph.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.ConversationSession
	for sid, names := range s.sessionEdges {
		for _, n := range names {
			if n == entityName {
				if sess, ok := s.sessions[sid]; ok {
					out = append(out, *sess)
				}
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (s *Store) GetTemporalContext(ctx context.Context, date string) (outbound.TemporalContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tc outbound.TemporalContext
	if d, ok := s.days[date]; ok {
		tc.Day = *d
	}
	if monthKey, ok := s.dayMonth[date]; ok {
		if m, ok := s.months[monthKey]; ok {
			tc.Month = *m
		}
		if year, ok := s.monthYear[monthKey]; ok {
			tc.Year = graph.Year{Year: year}
		}
	}
	for id, dayKey := range s.obsDay {
		if dayKey == date {
			if o, ok := s.observations[id]; ok {
				tc.Observations = append(tc.Observations, *o)
			}
		}
	}
	sort.Slice(tc.Observations, func(i, j int) bool { return tc.Observations[i].CreatedAt.Before(tc.Observations[j].CreatedAt) })
	return tc, nil
}

func (s *Store) GetBreakthroughSessions(ctx context.Context, limit int) ([]graph.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.ConversationSession
	for sid, names := range s.sessionEdges {
		if len(names) >= 3 { // "breakthrough" heuristic: sessions touching several entities
			if sess, ok := s.sessions[sid]; ok {
				out = append(out, *sess)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SearchCommunities(ctx context.Context, vector []float32, limit int) ([]graph.CommunitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type scored struct {
		c     graph.CommunitySummary
		score float32
	}
	var scoredList []scored
	for _, c := range s.communities {
		scoredList = append(scoredList, scored{c, cosineSimilarity(vector, c.Embedding)})
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].score > scoredList[j].score })
	var out []graph.CommunitySummary
	for _, sc := range scoredList {
		out = append(out, sc.c)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) LocalSearch(ctx context.Context, entityName string, hops int) (outbound.LocalSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.entities[entityName]
	if !ok {
		return outbound.LocalSearchResult{}, fmt.Errorf("%w: %s", outbound.ErrEntityNotFound, entityName)
	}
	result := outbound.LocalSearchResult{Root: *root}
	visited := map[string]bool{entityName: true}
	frontier := []string{entityName}
	for h := 1; h <= hops && len(frontier) > 0; h++ {
		var next []string
		for _, name := range frontier {
			for _, r := range s.relations[name] {
				if visited[r.to] {
					continue
				}
				visited[r.to] = true
				if target, ok := s.entities[r.to]; ok {
					result.Edges = append(result.Edges, outbound.LocalSearchEdge{
						RelType: r.relType,
						Target:  *target,
						Hops:    h,
						Rank:    1.0 / float32(h),
					})
					next = append(next, r.to)
				}
			}
		}
		frontier = next
	}
	return result, nil
}

func (s *Store) RawQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	return nil, fmt.Errorf("raw_cypher_query: in-memory store does not execute arbitrary queries; wire a real graph database driver")
}

// StoreEmbedding backfills an observation's vector. A node that already
// carries a vector is left untouched.
func (s *Store) StoreEmbedding(ctx context.Context, nodeID string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.observations[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", outbound.ErrEntityNotFound, nodeID)
	}
	if o.HasEmbedding {
		return nil
	}
	o.Embedding = vector
	o.HasEmbedding = true
	return nil
}
