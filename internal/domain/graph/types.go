// Package graph holds the persisted V6 schema types: Entity, Observation,
// the Day/Month/Year temporal hierarchy, ConversationSession, and
// CommunitySummary. These are plain data types; the GraphStore port in
// internal/port/outbound defines how they are read and written against the
// graph database, which this module treats as an external collaborator.
package graph

import "time"

// Entity is a named node carrying the :Entity label plus optional
// :SemanticEntity and type-specific labels.
type Entity struct {
	Name          string
	EntityType    string
	Created       time.Time
	CreatedBy     string
	HasEmbedding  bool
	SemanticLabel bool // true once the entity has received an embedding-backed observation
}

// Observation carries the label set :Observation:Perennial:Entity. It is
// append-only: Content and Embedding are never mutated after creation.
type Observation struct {
	ID             string
	Content        string
	CreatedAt      time.Time
	Source         string
	CreatedBy      string
	SemanticTheme  string
	ConversationID string
	Embedding      []float32 // jina_vec_v3, 256-D, nil when has_embedding is false
	HasEmbedding   bool
}

// Labels returns the exact three labels every Observation must carry.
func (Observation) Labels() []string {
	return []string{"Observation", "Perennial", "Entity"}
}

// Day is a node keyed by date, in "YYYY-MM-DD" form.
type Day struct {
	Date string
}

// Month is a node keyed by date, in canonical "YYYY-MM" form (two-digit,
// zero-padded month). The legacy "year_month" key format is not used.
type Month struct {
	Date string
}

// Year is a node keyed by an integer year.
type Year struct {
	Year int
}

// ConversationSession is a node tracking a single external conversation
// that produced observations.
type ConversationSession struct {
	SessionID string
	Source    string
	Context   string
	CreatedAt time.Time
}

// CommunitySummary is consumed, not produced, by this system (GraphRAG
// community detection runs elsewhere). It is read for graphrag_global_search.
type CommunitySummary struct {
	CommunityID string
	Name        string
	MemberCount int
	Summary     string
	Embedding   []float32
}

// DayKey formats t as the canonical Day.date key.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// MonthKey formats t as the canonical, zero-padded Month.date key.
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// YearKey returns the canonical Year.year key.
func YearKey(t time.Time) int {
	return t.Year()
}
