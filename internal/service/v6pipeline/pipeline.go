// Package v6pipeline implements the write path shared by create_entities
// and add_observations: schema validation, semantic classification,
// best-effort embedding, temporal binding, entity merge, and observation
// creation inside a single transaction that commits or rolls back as a
// unit.
package v6pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/apperr"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/classify"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/graph"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/ratelimit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/schema"
	"github.com/DayDreamerAI/daydreamer-memory/internal/port/outbound"
)

// Clock returns the current time; tests supply a fixed clock so created_at
// and the temporal hierarchy are deterministic.
type Clock func() time.Time

// DefaultEntityRateLimitConfig governs EntityLimiter when the caller has no
// sharper per-deployment policy: up to 60 observation writes per entity per
// minute with a burst allowance of 120, enough to absorb a single large
// create_entities/add_observations batch without throttling it mid-call,
// while still bounding an unbounded per-entity write loop.
var DefaultEntityRateLimitConfig = ratelimit.RateLimitConfig{Rate: 60, Burst: 120, Period: time.Minute}

// Pipeline is the V6 write path. It holds no per-call state; every method
// takes its transaction from the supplied GraphStore.
type Pipeline struct {
	store         outbound.GraphStore
	encoder       outbound.Encoder
	clock         Clock
	strict        bool
	log           *slog.Logger
	entityLimiter ratelimit.RateLimiter
	entityRateCfg ratelimit.RateLimitConfig
	onObsCreated  func(count int)
}

// Config configures a Pipeline.
type Config struct {
	Store   outbound.GraphStore
	Encoder outbound.Encoder
	Clock   Clock // defaults to time.Now
	Strict  bool  // SCHEMA_ENFORCEMENT_STRICT
	Log     *slog.Logger

	// EntityLimiter, when set, throttles observation writes per entity
	// name (ratelimit.KeyTypeEntity) independently of the HTTP gatekeeper's
	// per-IP/per-user limits. nil disables per-entity throttling.
	EntityLimiter ratelimit.RateLimiter
	// EntityRateLimitCfg configures EntityLimiter. Ignored if EntityLimiter
	// is nil.
	EntityRateLimitCfg ratelimit.RateLimitConfig

	// OnObservationsCreated is an optional metric hook, fired once per
	// committed top-level call with the number of observations it created.
	OnObservationsCreated func(count int)
}

// New constructs a Pipeline.
func New(cfg Config) *Pipeline {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		store:         cfg.Store,
		encoder:       cfg.Encoder,
		clock:         clock,
		strict:        cfg.Strict,
		log:           log,
		entityLimiter: cfg.EntityLimiter,
		entityRateCfg: cfg.EntityRateLimitCfg,
		onObsCreated:  cfg.OnObservationsCreated,
	}
}

func (p *Pipeline) noteObservationsCreated(count int) {
	if p.onObsCreated != nil && count > 0 {
		p.onObsCreated(count)
	}
}

// checkEntityWriteRate throttles writes to a single entity name. It never
// blocks a call when no limiter is configured, and a limiter error (as
// opposed to a limiter-imposed rejection) is logged and treated as allowed
// rather than failing the write — the limiter is a burst guard, not a
// correctness dependency.
func (p *Pipeline) checkEntityWriteRate(ctx context.Context, entityName string) error {
	if p.entityLimiter == nil {
		return nil
	}
	key := ratelimit.FormatKey(ratelimit.KeyTypeEntity, entityName)
	result, err := p.entityLimiter.Allow(ctx, key, p.entityRateCfg)
	if err != nil {
		p.log.Warn("entity write rate limiter error, allowing write", "entity", entityName, "error", err)
		return nil
	}
	if !result.Allowed {
		return apperr.New(apperr.CategoryResourceExhausted,
			fmt.Sprintf("write rate exceeded for entity %q, retry after %s", entityName, result.RetryAfter))
	}
	return nil
}

// EntityRequest is one entity plus its initial observation content, as
// received from create_entities arguments.
type EntityRequest struct {
	Name         string
	EntityType   string
	Observations []string
	Source       string
	CreatedBy    string
}

// Result mirrors outbound.CreateEntitiesResult plus the boolean the MCP
// response always sets to true on success: a request that fails schema
// validation for every item never reaches a commit, and the pipeline
// returns a schema_violation error instead of this Result.
type Result struct {
	CreatedEntities     []string
	ObservationsCreated int
	EmbeddingsGenerated int
	SchemaWarnings      []string
	V6Compliant         bool
}

// CreateEntities runs the full pipeline for a batch of new entities, each
// carrying zero or more initial observations. Entities that already exist
// are merged without their attributes being rewritten; their observations
// are still appended (idempotent MERGE, append-only observations).
func (p *Pipeline) CreateEntities(ctx context.Context, reqs []EntityRequest) (*Result, error) {
	items := make([]schema.EntityInput, len(reqs))
	for i, r := range reqs {
		items[i] = schema.EntityInput{Name: r.Name, EntityType: r.EntityType, Observations: r.Observations}
	}
	normalized, warnings, errs := schema.ValidateEntities(items, p.strict)
	if len(normalized) == 0 {
		if len(errs) > 0 {
			return nil, apperr.Wrap(apperr.CategorySchemaViolation, "no entity passed schema validation", errs[0])
		}
		return nil, apperr.Validationf("entities must not be empty")
	}
	for _, e := range errs {
		warnings = append(warnings, e.Error())
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Databasef(err, "could not start graph transaction")
	}

	now := p.clock()
	res := &Result{SchemaWarnings: warnings}

	if err := tx.MergeTemporalHierarchy(ctx, now); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperr.Databasef(err, "could not bind temporal hierarchy")
	}

	byName := make(map[string]EntityRequest, len(reqs))
	for _, r := range reqs {
		byName[r.Name] = r
	}

	for _, item := range normalized {
		req := byName[item.Name]

		entity := graph.Entity{
			Name:       item.Name,
			EntityType: item.EntityType,
			Created:    now,
			CreatedBy:  req.CreatedBy,
		}
		if err := tx.MergeEntity(ctx, entity); err != nil {
			_ = tx.Rollback(ctx)
			return nil, apperr.Databasef(err, "could not merge entity %q", item.Name)
		}
		res.CreatedEntities = append(res.CreatedEntities, item.Name)

		if len(item.Observations) > 0 {
			if err := p.checkEntityWriteRate(ctx, item.Name); err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
		}

		for _, content := range item.Observations {
			obs, embeddingsGenerated, err := p.buildObservation(ctx, content, req, now)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			if err := tx.CreateObservation(ctx, outbound.ObservationWrite{
				EntityName:  item.Name,
				Observation: obs,
			}); err != nil {
				_ = tx.Rollback(ctx)
				return nil, apperr.Databasef(err, "could not create observation for entity %q", item.Name)
			}
			res.ObservationsCreated++
			res.EmbeddingsGenerated += embeddingsGenerated
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Databasef(err, "could not commit transaction")
	}

	res.V6Compliant = true
	p.noteObservationsCreated(res.ObservationsCreated)
	return res, nil
}

// AddObservationRequest appends one or more observations to an existing
// (or not-yet-existing — MergeEntity creates it on first reference)
// entity.
type AddObservationRequest struct {
	EntityName   string
	Observations []string
	Source       string
	CreatedBy    string
}

// AddObservations runs the same pipeline as CreateEntities but does not
// require a caller-supplied entityType: entities referenced for the first
// time here are merged with entityType "general".
func (p *Pipeline) AddObservations(ctx context.Context, reqs []AddObservationRequest) (*Result, error) {
	if len(reqs) == 0 {
		return nil, apperr.Validationf("observations must not be empty")
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, apperr.Databasef(err, "could not start graph transaction")
	}

	now := p.clock()
	res := &Result{}

	if err := tx.MergeTemporalHierarchy(ctx, now); err != nil {
		_ = tx.Rollback(ctx)
		return nil, apperr.Databasef(err, "could not bind temporal hierarchy")
	}

	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if len(r.Observations) == 0 {
			continue
		}
		if !seen[r.EntityName] {
			entity := graph.Entity{
				Name:       r.EntityName,
				EntityType: "general",
				Created:    now,
				CreatedBy:  r.CreatedBy,
			}
			if err := tx.MergeEntity(ctx, entity); err != nil {
				_ = tx.Rollback(ctx)
				return nil, apperr.Databasef(err, "could not merge entity %q", r.EntityName)
			}
			res.CreatedEntities = append(res.CreatedEntities, r.EntityName)
			seen[r.EntityName] = true
		}

		if err := p.checkEntityWriteRate(ctx, r.EntityName); err != nil {
			_ = tx.Rollback(ctx)
			return nil, err
		}

		for _, content := range r.Observations {
			obs, embeddingsGenerated, err := p.buildObservation(ctx, content, EntityRequest{Source: r.Source, CreatedBy: r.CreatedBy}, now)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			if err := tx.CreateObservation(ctx, outbound.ObservationWrite{
				EntityName:  r.EntityName,
				Observation: obs,
			}); err != nil {
				_ = tx.Rollback(ctx)
				return nil, apperr.Databasef(err, "could not create observation for entity %q", r.EntityName)
			}
			res.ObservationsCreated++
			res.EmbeddingsGenerated += embeddingsGenerated
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Databasef(err, "could not commit transaction")
	}

	res.V6Compliant = true
	p.noteObservationsCreated(res.ObservationsCreated)
	return res, nil
}

// buildObservation runs steps 2-4 of the pipeline (timestamp, semantic
// classification, best-effort embedding) for one observation's content.
// It returns the number of embeddings generated (0 or 1) so callers can
// accumulate Result.EmbeddingsGenerated.
func (p *Pipeline) buildObservation(ctx context.Context, content string, req EntityRequest, now time.Time) (graph.Observation, int, error) {
	obs := graph.Observation{
		ID:            uuid.NewString(),
		Content:       content,
		CreatedAt:     now,
		Source:        req.Source,
		CreatedBy:     req.CreatedBy,
		SemanticTheme: classify.Classify(content),
	}

	if p.encoder == nil {
		return obs, 0, nil
	}

	vec, err := p.encoder.EncodeSingle(ctx, content)
	switch {
	case err == nil:
		obs.Embedding = vec
		obs.HasEmbedding = true
		return obs, 1, nil
	case isBestEffortEncodeErr(err):
		p.log.Warn("embedding skipped, falling back to unembedded observation", "error", err)
		return obs, 0, nil
	default:
		return graph.Observation{}, 0, apperr.Wrap(apperr.CategoryDatabase, "unexpected embedding failure", err)
	}
}

func isBestEffortEncodeErr(err error) bool {
	return errors.Is(err, outbound.ErrUnavailable) ||
		errors.Is(err, outbound.ErrEncodeTimeout) ||
		errors.Is(err, outbound.ErrResourceExhausted)
}

// CreateRelations MERGEs non-protected relationship types between existing
// entities. Each item fails independently; a protected type, or a
// reference to a missing entity, does not abort the rest of the batch.
func (p *Pipeline) CreateRelations(ctx context.Context, items []schema.RelationInput) (created int, perItemErrors []error, err error) {
	normalized, _, errs := schema.ValidateRelationships(items, p.strict)
	perItemErrors = append(perItemErrors, errs...)
	if len(normalized) == 0 {
		return 0, perItemErrors, nil
	}

	tx, txErr := p.store.BeginTx(ctx)
	if txErr != nil {
		return 0, perItemErrors, apperr.Databasef(txErr, "could not start graph transaction")
	}

	for _, rel := range normalized {
		if err := tx.CreateRelation(ctx, rel.From, rel.Type, rel.To); err != nil {
			perItemErrors = append(perItemErrors, fmt.Errorf("relation %s -[%s]-> %s: %w", rel.From, rel.Type, rel.To, err))
			continue
		}
		created++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, perItemErrors, apperr.Databasef(err, "could not commit relation batch")
	}
	return created, perItemErrors, nil
}
