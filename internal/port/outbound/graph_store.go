// Package outbound declares the interfaces this system requires of its
// external collaborators: the graph database and the embedding model.
// Both are out of scope to implement here; this package is only the
// contract boundary between the domain/service layers and whatever
// concrete adapter backs them.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/graph"
)

// ErrEntityNotFound is returned when a referenced entity does not exist.
var ErrEntityNotFound = errors.New("entity not found")

// ErrTxFailed wraps a failed graph transaction.
var ErrTxFailed = errors.New("graph transaction failed")

// ObservationWrite is the set of fields the V6 pipeline has already
// computed (schema-validated, classified, optionally embedded) for a
// single Observation, ready to be persisted atomically alongside its
// temporal bindings.
type ObservationWrite struct {
	EntityName   string
	Observation  graph.Observation
	Conversation string // optional ConversationSession id for provenance edge
}

// CreateEntitiesResult summarizes a create_entities / add_observations
// transaction.
type CreateEntitiesResult struct {
	CreatedEntities      []string
	ObservationsCreated  int
	EmbeddingsGenerated  int
	SchemaWarnings       []string
}

// GraphStore is the single write/read surface the V6 pipeline and tool
// handlers use. A transaction groups one top-level tool call: partial
// failures roll back the whole call.
type GraphStore interface {
	// BeginTx starts a transaction scoped to ctx's deadline. Callers must
	// Commit or Rollback.
	BeginTx(ctx context.Context) (Tx, error)

	// SearchNodes performs an exact name/alias match (non-semantic path
	// of search_nodes).
	SearchNodes(ctx context.Context, query string, limit int) ([]graph.Entity, error)

	// SearchNodesByVector runs a vector-index scan over SemanticEntity
	// nodes. scanMultiplier widens the initial candidate set before
	// ranking, trading extra scan cost for better recall.
	SearchNodesByVector(ctx context.Context, vector []float32, limit, scanMultiplier int) ([]ScoredEntity, error)

	// Stats returns the scalar counters behind memory_stats.
	Stats(ctx context.Context) (Stats, error)

	// SearchObservations filters across theme/entity/date range/confidence.
	SearchObservations(ctx context.Context, filter ObservationFilter) ([]graph.Observation, error)

	// SearchConversations, TraceEntityOrigin, GetTemporalContext, and
	// GetBreakthroughSessions are read-only ConversationSession/Observation
	// queries.
	SearchConversations(ctx context.Context, query string, limit int) ([]graph.ConversationSession, error)
	TraceEntityOrigin(ctx context.Context, entityName string) ([]graph.ConversationSession, error)
	GetTemporalContext(ctx context.Context, date string) (TemporalContext, error)
	GetBreakthroughSessions(ctx context.Context, limit int) ([]graph.ConversationSession, error)

	// SearchCommunities vector-matches CommunitySummary.embedding
	// (graphrag_global_search).
	SearchCommunities(ctx context.Context, vector []float32, limit int) ([]graph.CommunitySummary, error)

	// LocalSearch walks an entity's neighborhood up to hops edges
	// (graphrag_local_search).
	LocalSearch(ctx context.Context, entityName string, hops int) (LocalSearchResult, error)

	// RawQuery runs a parameterized, read-only or tool-scoped query. The
	// caller (raw_cypher_query handler) is responsible for refusing writes
	// that touch protected relationships before calling this.
	RawQuery(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// StoreEmbedding backfills an Observation's vector by node id
	// (generate_embeddings_batch). Observations that already carry a
	// vector are left untouched: embeddings, like content, are never
	// mutated after write. Returns ErrEntityNotFound for an unknown id.
	StoreEmbedding(ctx context.Context, nodeID string, vector []float32) error

	// Ping checks reachability for /health.
	Ping(ctx context.Context) error
}

// Tx is a single atomic unit of work across the temporal hierarchy,
// entities, observations, and their links.
type Tx interface {
	// MergeEntity creates or looks up an Entity by name, applying
	// attributes only on first creation; entities are not rewritten on
	// subsequent merges.
	MergeEntity(ctx context.Context, e graph.Entity) error

	// MergeTemporalHierarchy ensures Day/Month/Year nodes and their
	// PART_OF_MONTH/PART_OF_YEAR edges exist for t, creating only what is
	// missing.
	MergeTemporalHierarchy(ctx context.Context, t time.Time) error

	// CreateObservation creates an Observation node and links it to its
	// entity (ENTITY_HAS_OBSERVATION) and to its Day (OCCURRED_ON). The
	// Day must already exist in this transaction via MergeTemporalHierarchy.
	CreateObservation(ctx context.Context, w ObservationWrite) error

	// CreateRelation MERGEs a non-protected relationship between two
	// existing entities. Returns ErrEntityNotFound per-item (caller does
	// not abort the batch on this error).
	CreateRelation(ctx context.Context, from, relType, to string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ScoredEntity pairs an Entity with its vector-similarity score.
type ScoredEntity struct {
	Entity graph.Entity
	Score  float32
}

// Stats backs the memory_stats tool.
type Stats struct {
	EntityCount         int
	ObservationCount     int
	EmbeddingCoverage    float64 // observations with embeddings / total
	ActiveSessionCount   int
	ThemeDistribution    map[string]int
}

// ObservationFilter is the multi-dimensional filter for search_observations.
type ObservationFilter struct {
	Theme        string
	EntityName   string
	DateFrom     string // "YYYY-MM-DD", inclusive
	DateTo       string
	MinConfidence float64
	Limit        int
}

// TemporalContext backs get_temporal_context: the Day/Month/Year and the
// observations bound to that Day.
type TemporalContext struct {
	Day          graph.Day
	Month        graph.Month
	Year         graph.Year
	Observations []graph.Observation
}

// LocalSearchResult backs graphrag_local_search.
type LocalSearchResult struct {
	Root  graph.Entity
	Edges []LocalSearchEdge
}

// LocalSearchEdge is one ranked neighborhood edge.
type LocalSearchEdge struct {
	RelType string
	Target  graph.Entity
	Hops    int
	Rank    float32
}
