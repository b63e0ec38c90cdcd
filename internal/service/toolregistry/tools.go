package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/apperr"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/schema"
	"github.com/DayDreamerAI/daydreamer-memory/internal/port/outbound"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/v6pipeline"
)

// Deps are the collaborators every built-in tool handler closes over.
// Exactly one instance is shared across every MCP session.
type Deps struct {
	Store    outbound.GraphStore
	Encoder  outbound.Encoder
	Pipeline *v6pipeline.Pipeline
	Strict   bool // reject unknown argument fields

	// GraphRAGGlobal and GraphRAGLocal gate the two GraphRAG tools
	// (GRAPHRAG_ENABLED plus the per-tool flag). Both tools stay listed
	// either way, for a stable tools/list; a disabled tool refuses its
	// calls instead of disappearing.
	GraphRAGGlobal bool
	GraphRAGLocal  bool
}

// decodeArgs unmarshals raw into target, rejecting unknown fields when
// deps.Strict is set. A decode failure is always a validation-category
// error, never a database or protocol one.
func decodeArgs(raw json.RawMessage, strict bool, target any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(target); err != nil {
		return apperr.Wrap(apperr.CategoryValidation, "invalid tool arguments", err)
	}
	return nil
}

// NewDefaultRegistry builds the fixed 17-tool registry: 14 fully
// implemented tools plus 3 stdio-parity stubs.
func NewDefaultRegistry(deps Deps) *Registry {
	r := New()

	r.Register(Tool{
		Name:        "search_nodes",
		Description: "Search entities by name or, when semantic=true, by vector similarity over their embedded observations.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"},"semantic":{"type":"boolean"}},"required":["query"]}`),
		Handler:     searchNodesHandler(deps),
	})
	r.Register(Tool{
		Name:        "memory_stats",
		Description: "Return scalar counts and coverage ratios for the graph: entities, observations, embedding coverage, active sessions, theme distribution.",
		InputSchema: schemaRaw(`{"type":"object","properties":{}}`),
		Handler:     memoryStatsHandler(deps),
	})
	r.Register(Tool{
		Name:        "create_entities",
		Description: "Create one or more entities with their initial observations through the V6 write pipeline.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"entities":{"type":"array","items":{"type":"object","properties":{"name":{"type":"string"},"entityType":{"type":"string"},"observations":{"type":"array","items":{"type":"string"}}},"required":["name","entityType"]}}},"required":["entities"]}`),
		Handler:     createEntitiesHandler(deps),
	})
	r.Register(Tool{
		Name:        "add_observations",
		Description: "Append observations to an existing (or newly referenced) entity through the V6 write pipeline.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"entity_name":{"type":"string"},"observations":{"type":"array","items":{"oneOf":[{"type":"string"},{"type":"object","properties":{"content":{"type":"string"},"source":{"type":"string"}},"required":["content"]}]}}},"required":["entity_name","observations"]}`),
		Handler:     addObservationsHandler(deps),
	})
	r.Register(Tool{
		Name:        "create_relations",
		Description: "MERGE one or more non-protected relationships between existing entities.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"relations":{"type":"array","items":{"type":"object","properties":{"from":{"type":"string"},"type":{"type":"string"},"to":{"type":"string"}},"required":["from","type","to"]}}},"required":["relations"]}`),
		Handler:     createRelationsHandler(deps),
	})
	r.Register(Tool{
		Name:        "search_observations",
		Description: "Filter observations by theme, entity, date range, and minimum confidence.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"theme":{"type":"string"},"entity_name":{"type":"string"},"date_from":{"type":"string"},"date_to":{"type":"string"},"min_confidence":{"type":"number"},"limit":{"type":"integer"}}}`),
		Handler:     searchObservationsHandler(deps),
	})
	r.Register(Tool{
		Name:        "search_conversations",
		Description: "Search ConversationSession nodes by free-text match over source/context.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
		Handler:     searchConversationsHandler(deps),
	})
	r.Register(Tool{
		Name:        "trace_entity_origin",
		Description: "List the ConversationSessions that first introduced an entity.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"entity_name":{"type":"string"}},"required":["entity_name"]}`),
		Handler:     traceEntityOriginHandler(deps),
	})
	r.Register(Tool{
		Name:        "get_temporal_context",
		Description: "Return the Day/Month/Year closure and bound observations for a given date.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"date":{"type":"string"}},"required":["date"]}`),
		Handler:     getTemporalContextHandler(deps),
	})
	r.Register(Tool{
		Name:        "get_breakthrough_sessions",
		Description: "List ConversationSessions that touched several entities in one pass.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"limit":{"type":"integer"}}}`),
		Handler:     getBreakthroughSessionsHandler(deps),
	})
	r.Register(Tool{
		Name:        "graphrag_global_search",
		Description: "Vector-match CommunitySummary nodes using the shared embedder and return top-k community summaries.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}},"required":["query"]}`),
		Handler:     graphragGlobalSearchHandler(deps),
	})
	r.Register(Tool{
		Name:        "graphrag_local_search",
		Description: "Traverse an entity's neighborhood up to two hops, returning ranked edges.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"entity_name":{"type":"string"},"hops":{"type":"integer"}},"required":["entity_name"]}`),
		Handler:     graphragLocalSearchHandler(deps),
	})
	r.Register(Tool{
		Name:        "raw_cypher_query",
		Description: "Run a parameterized, operational read query. Refuses any query that references a protected relationship type.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"query":{"type":"string"},"params":{"type":"object"}},"required":["query"]}`),
		Handler:     rawCypherQueryHandler(deps),
	})
	r.Register(Tool{
		Name:        "generate_embeddings_batch",
		Description: "Batch-encode text for a set of node ids and store the resulting vectors.",
		InputSchema: schemaRaw(`{"type":"object","properties":{"node_ids":{"type":"array","items":{"type":"string"}},"texts":{"type":"array","items":{"type":"string"}}},"required":["node_ids","texts"]}`),
		Handler:     generateEmbeddingsBatchHandler(deps),
	})

	for name, desc := range stubTools {
		name, desc := name, desc
		r.Register(Tool{
			Name:        name,
			Description: desc,
			InputSchema: schemaRaw(`{"type":"object","properties":{}}`),
			Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
				return stubResult(name), nil
			},
		})
	}

	return r
}

func schemaRaw(s string) json.RawMessage { return json.RawMessage(s) }

var stubTools = map[string]string{
	"conversational_memory_search": "Stub retained for stdio-transport parity. Not implemented in this gateway; use search_observations or graphrag_local_search.",
	"virtual_context_search":       "Stub retained for stdio-transport parity. Not implemented in this gateway; use get_temporal_context.",
	"lightweight_embodiment":       "Stub retained for stdio-transport parity. Not implemented in this gateway.",
}

func stubResult(name string) map[string]any {
	return map[string]any{
		"implemented": false,
		"message":     fmt.Sprintf("%s is a stdio-transport compatibility stub and is not implemented by this gateway.", name),
	}
}

// --- search_nodes ---

type searchNodesArgs struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Semantic *bool  `json:"semantic"`
}

const searchNodesScanMultiplier = 1000

func searchNodesHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a searchNodesArgs
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if a.Query == "" {
			return nil, apperr.Validationf("query must not be empty")
		}
		limit := a.Limit
		if limit <= 0 {
			limit = 10
		}
		semantic := a.Semantic == nil || *a.Semantic

		if !semantic || deps.Encoder == nil {
			entities, err := deps.Store.SearchNodes(ctx, a.Query, limit)
			if err != nil {
				return nil, apperr.Databasef(err, "search_nodes failed")
			}
			return map[string]any{"entities": entities, "semantic": false}, nil
		}

		vec, err := deps.Encoder.EncodeSingle(ctx, a.Query)
		if err != nil {
			// Embedding is best-effort even for reads: fall back to the
			// exact-match path rather than failing the call.
			entities, serr := deps.Store.SearchNodes(ctx, a.Query, limit)
			if serr != nil {
				return nil, apperr.Databasef(serr, "search_nodes failed")
			}
			return map[string]any{"entities": entities, "semantic": false, "embedding_fallback": true}, nil
		}

		scored, err := deps.Store.SearchNodesByVector(ctx, vec, limit, searchNodesScanMultiplier)
		if err != nil {
			return nil, apperr.Databasef(err, "search_nodes (semantic) failed")
		}
		return map[string]any{"entities": scored, "semantic": true}, nil
	}
}

// --- memory_stats ---

func memoryStatsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		stats, err := deps.Store.Stats(ctx)
		if err != nil {
			return nil, apperr.Databasef(err, "memory_stats failed")
		}
		return stats, nil
	}
}

// --- create_entities ---

type createEntitiesArgs struct {
	Entities []struct {
		Name         string   `json:"name"`
		EntityType   string   `json:"entityType"`
		Observations []string `json:"observations"`
	} `json:"entities"`
}

func createEntitiesHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a createEntitiesArgs
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if len(a.Entities) == 0 {
			return nil, apperr.Validationf("entities must not be empty")
		}
		reqs := make([]v6pipeline.EntityRequest, len(a.Entities))
		for i, e := range a.Entities {
			reqs[i] = v6pipeline.EntityRequest{Name: e.Name, EntityType: e.EntityType, Observations: e.Observations}
		}
		res, err := deps.Pipeline.CreateEntities(ctx, reqs)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// --- add_observations ---

// observationInput accepts either a bare string or a {content, source?}
// object, the two shapes MCP clients send for an observation.
type observationInput struct {
	Content string
	Source  string
}

func (o *observationInput) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		o.Content = s
		return nil
	}
	var obj struct {
		Content string `json:"content"`
		Source  string `json:"source"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("observation must be a string or a {content, source} object")
	}
	o.Content = obj.Content
	o.Source = obj.Source
	return nil
}

type addObservationsArgs struct {
	EntityName   string             `json:"entity_name"`
	Observations []observationInput `json:"observations"`
}

func addObservationsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a addObservationsArgs
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if a.EntityName == "" {
			return nil, apperr.Validationf("entity_name must not be empty")
		}
		if len(a.Observations) == 0 {
			return nil, apperr.Validationf("observations must not be empty")
		}

		// Each observation becomes its own request carrying its own source;
		// the pipeline still commits the whole call as a single transaction.
		reqs := make([]v6pipeline.AddObservationRequest, 0, len(a.Observations))
		for _, obs := range a.Observations {
			if obs.Content == "" {
				return nil, apperr.Validationf("observation content must not be empty")
			}
			reqs = append(reqs, v6pipeline.AddObservationRequest{
				EntityName:   a.EntityName,
				Observations: []string{obs.Content},
				Source:       obs.Source,
			})
		}
		res, err := deps.Pipeline.AddObservations(ctx, reqs)
		if err != nil {
			return nil, err
		}
		return res, nil
	}
}

// --- create_relations ---

type createRelationsArgs struct {
	Relations []struct {
		From string `json:"from"`
		Type string `json:"type"`
		To   string `json:"to"`
	} `json:"relations"`
}

func createRelationsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a createRelationsArgs
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		items := make([]schema.RelationInput, len(a.Relations))
		for i, r := range a.Relations {
			items[i] = schema.RelationInput{From: r.From, Type: r.Type, To: r.To}
		}
		created, perItem, err := deps.Pipeline.CreateRelations(ctx, items)
		if err != nil {
			return nil, err
		}
		errStrings := make([]string, len(perItem))
		for i, e := range perItem {
			errStrings[i] = e.Error()
		}
		return map[string]any{"created": created, "errors": errStrings}, nil
	}
}

// --- search_observations ---

func searchObservationsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var filter outbound.ObservationFilter
		var a struct {
			Theme         string  `json:"theme"`
			EntityName    string  `json:"entity_name"`
			DateFrom      string  `json:"date_from"`
			DateTo        string  `json:"date_to"`
			MinConfidence float64 `json:"min_confidence"`
			Limit         int     `json:"limit"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		filter = outbound.ObservationFilter{
			Theme:         a.Theme,
			EntityName:    a.EntityName,
			DateFrom:      a.DateFrom,
			DateTo:        a.DateTo,
			MinConfidence: a.MinConfidence,
			Limit:         a.Limit,
		}
		if filter.Theme != "" && !schema.IsCanonicalTheme(filter.Theme) {
			return nil, apperr.Validationf("theme %q is not one of the canonical semantic themes", filter.Theme)
		}
		obs, err := deps.Store.SearchObservations(ctx, filter)
		if err != nil {
			return nil, apperr.Databasef(err, "search_observations failed")
		}
		return map[string]any{"observations": obs}, nil
	}
}

// --- search_conversations / trace_entity_origin / get_temporal_context / get_breakthrough_sessions ---

func searchConversationsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		sessions, err := deps.Store.SearchConversations(ctx, a.Query, a.Limit)
		if err != nil {
			return nil, apperr.Databasef(err, "search_conversations failed")
		}
		return map[string]any{"sessions": sessions}, nil
	}
}

func traceEntityOriginHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			EntityName string `json:"entity_name"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if a.EntityName == "" {
			return nil, apperr.Validationf("entity_name must not be empty")
		}
		sessions, err := deps.Store.TraceEntityOrigin(ctx, a.EntityName)
		if err != nil {
			return nil, apperr.Databasef(err, "trace_entity_origin failed")
		}
		return map[string]any{"sessions": sessions}, nil
	}
}

func getTemporalContextHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			Date string `json:"date"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if a.Date == "" {
			return nil, apperr.Validationf("date must not be empty")
		}
		tc, err := deps.Store.GetTemporalContext(ctx, a.Date)
		if err != nil {
			return nil, apperr.Databasef(err, "get_temporal_context failed")
		}
		return tc, nil
	}
}

func getBreakthroughSessionsHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			Limit int `json:"limit"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		sessions, err := deps.Store.GetBreakthroughSessions(ctx, a.Limit)
		if err != nil {
			return nil, apperr.Databasef(err, "get_breakthrough_sessions failed")
		}
		return map[string]any{"sessions": sessions}, nil
	}
}

// --- graphrag_global_search / graphrag_local_search ---

func graphragGlobalSearchHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if !deps.GraphRAGGlobal {
			return nil, apperr.Validationf("graphrag_global_search is disabled by configuration")
		}
		if a.Query == "" {
			return nil, apperr.Validationf("query must not be empty")
		}
		if deps.Encoder == nil {
			return nil, apperr.New(apperr.CategoryResourceExhausted, "embedding subsystem not configured")
		}
		vec, err := deps.Encoder.EncodeSingle(ctx, a.Query)
		if err != nil {
			return nil, encodeErrToAppErr(err)
		}
		limit := a.Limit
		if limit <= 0 {
			limit = 5
		}
		communities, err := deps.Store.SearchCommunities(ctx, vec, limit)
		if err != nil {
			return nil, apperr.Databasef(err, "graphrag_global_search failed")
		}
		return map[string]any{"communities": communities}, nil
	}
}

const maxLocalSearchHops = 2

func graphragLocalSearchHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			EntityName string `json:"entity_name"`
			Hops       int    `json:"hops"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if !deps.GraphRAGLocal {
			return nil, apperr.Validationf("graphrag_local_search is disabled by configuration")
		}
		if a.EntityName == "" {
			return nil, apperr.Validationf("entity_name must not be empty")
		}
		hops := a.Hops
		if hops <= 0 {
			hops = 1
		}
		if hops > maxLocalSearchHops {
			hops = maxLocalSearchHops
		}
		res, err := deps.Store.LocalSearch(ctx, a.EntityName, hops)
		if err != nil {
			return nil, apperr.Databasef(err, "graphrag_local_search failed")
		}
		return res, nil
	}
}

// --- raw_cypher_query ---

func rawCypherQueryHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			Query  string         `json:"query"`
			Params map[string]any `json:"params"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if a.Query == "" {
			return nil, apperr.Validationf("query must not be empty")
		}
		if rel := referencedProtectedRelationship(a.Query); rel != "" {
			return nil, apperr.New(apperr.CategorySchemaViolation, fmt.Sprintf("query references protected relationship type %q", rel))
		}
		rows, err := deps.Store.RawQuery(ctx, a.Query, a.Params)
		if err != nil {
			return nil, apperr.Databasef(err, "raw_cypher_query failed")
		}
		return map[string]any{"rows": rows}, nil
	}
}

// referencedProtectedRelationship scans query text for any protected
// relationship type name, refusing it regardless of verb (CREATE, MERGE,
// DELETE) or casing. A write that never mentions the protected type by
// name is outside this check's scope: the underlying driver is still
// expected to enforce schema constraints server-side.
func referencedProtectedRelationship(query string) string {
	upper := strings.ToUpper(query)
	for _, rel := range []string{
		schema.RelOccurredOn,
		schema.RelPartOfMonth,
		schema.RelPartOfYear,
		schema.RelEntityHasObservation,
	} {
		if strings.Contains(upper, rel) {
			return rel
		}
	}
	return ""
}

// --- generate_embeddings_batch ---

func generateEmbeddingsBatchHandler(deps Deps) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var a struct {
			NodeIDs []string `json:"node_ids"`
			Texts   []string `json:"texts"`
		}
		if err := decodeArgs(raw, deps.Strict, &a); err != nil {
			return nil, err
		}
		if len(a.NodeIDs) != len(a.Texts) {
			return nil, apperr.Validationf("node_ids and texts must be the same length")
		}
		if deps.Encoder == nil {
			return nil, apperr.New(apperr.CategoryResourceExhausted, "embedding subsystem not configured")
		}
		vectors, err := deps.Encoder.EncodeBatch(ctx, a.Texts)
		if err != nil {
			return nil, encodeErrToAppErr(err)
		}
		stored := 0
		var itemErrors []string
		for i, id := range a.NodeIDs {
			if err := deps.Store.StoreEmbedding(ctx, id, vectors[i]); err != nil {
				itemErrors = append(itemErrors, fmt.Sprintf("node %s: %v", id, err))
				continue
			}
			stored++
		}
		return map[string]any{
			"node_ids":             a.NodeIDs,
			"embeddings_generated": len(vectors),
			"embeddings_stored":    stored,
			"errors":               itemErrors,
			"dimension":            outbound.Dimension,
		}, nil
	}
}

func encodeErrToAppErr(err error) error {
	switch {
	case errors.Is(err, outbound.ErrResourceExhausted):
		return apperr.Wrap(apperr.CategoryResourceExhausted, "embedding circuit breaker open", err)
	case errors.Is(err, outbound.ErrEncodeTimeout):
		return apperr.Wrap(apperr.CategoryTimeout, "embedding call timed out", err)
	default:
		return apperr.Wrap(apperr.CategoryDatabase, "embedding subsystem unavailable", err)
	}
}
