package memory

import "context"

// MemoryType classifies a memory record. The set is closed; anything
// outside it fails validation.
type MemoryType string

const (
	TypeDocument MemoryType = "document"
	TypeFragment MemoryType = "fragment"
	TypeMessage  MemoryType = "message"
	TypeFact     MemoryType = "fact"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case TypeDocument, TypeFragment, TypeMessage, TypeFact:
		return true
	}
	return false
}

// Scope controls visibility of a memory record.
type Scope string

const (
	ScopeShared  Scope = "shared"
	ScopePrivate Scope = "private"
	ScopeRoom    Scope = "room"
)

// Valid reports whether s is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeShared, ScopePrivate, ScopeRoom:
		return true
	}
	return false
}

// Logical table names used for type-based routing. Records route by
// metadata type: document/fragment land in knowledge, message in messages,
// fact in facts. Anything else stays in the manager's configured table.
const (
	TableKnowledge = "knowledge"
	TableMessages  = "messages"
	TableFacts     = "facts"
)

// Metadata is the structured classification attached to a memory.
// Type is mandatory; the remaining fields are optional and, where absent,
// are backfilled by the manager at creation time.
type Metadata struct {
	Type       MemoryType `json:"type" yaml:"type"`
	SourceID   string     `json:"sourceId,omitempty" yaml:"source_id,omitempty"`
	ChunkIndex *int       `json:"chunkIndex,omitempty" yaml:"chunk_index,omitempty"`
	Source     string     `json:"source,omitempty" yaml:"source,omitempty"`
	Scope      Scope      `json:"scope,omitempty" yaml:"scope,omitempty"`
	Tags       []string   `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Timestamp is creation time in unix milliseconds. Zero means unset.
	Timestamp int64 `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
}

// Content is the payload of a memory: raw text plus optional metadata.
type Content struct {
	Text     string    `json:"text"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

// Memory is one unit of agent memory bound to a room.
//
// Lifecycle: constructed by the caller (unpersisted), then validated,
// metadata-defaulted, embedding-ensured and persisted by Manager. After
// persistence it is only read, counted or removed, never mutated.
type Memory struct {
	// ID is the stable identity used for deduplication. CreateMemory
	// assigns one if empty.
	ID string `json:"id"`

	// AgentID is the owning agent. Empty means shared content.
	AgentID string `json:"agentId,omitempty"`

	// RoomID is the conversational partition key under which memories
	// are grouped for retrieval.
	RoomID string `json:"roomId"`

	Content Content `json:"content"`

	// Embedding is the vector for similarity search. Once set it is
	// never recomputed.
	Embedding []float32 `json:"embedding,omitempty"`

	// Unique marks records inserted with the similarity-based duplicate
	// check requested. Stores use it for unique-only read filters.
	Unique bool `json:"unique,omitempty"`

	// CreatedAt is unix milliseconds, set by CreateMemory when zero.
	CreatedAt int64 `json:"createdAt,omitempty"`
}

// GetParams selects memories within one room.
type GetParams struct {
	TableName string
	RoomID    string

	// Count limits results; zero means no limit.
	Count int

	// Unique restricts results to records stored with the unique flag.
	Unique bool

	// Start and End bound CreatedAt in unix milliseconds; zero means
	// unbounded on that side.
	Start int64
	End   int64

	// AgentID, when set, restricts results to that agent's records.
	AgentID string
}

// GetByRoomIDsParams selects memories across several rooms.
type GetByRoomIDsParams struct {
	TableName string
	RoomIDs   []string
	Limit     int
	AgentID   string
}

// SearchParams drives a vector similarity search.
type SearchParams struct {
	TableName      string
	RoomID         string
	AgentID        string
	Embedding      []float32
	MatchThreshold float64
	Count          int
	Unique         bool
}

// CachedEmbeddingParams describes a lookup of previously computed
// embeddings by fuzzy content match.
type CachedEmbeddingParams struct {
	TableName         string
	QueryInput        string
	QueryThreshold    int
	QueryFieldName    string
	QueryFieldSubName string
	QueryMatchCount   int
}

// CachedEmbedding is one reusable embedding with its distance from the
// queried input (Levenshtein, lower is closer).
type CachedEmbedding struct {
	Embedding     []float32 `json:"embedding"`
	DistanceScore float64   `json:"distanceScore"`
}

// Store is the persistence backend interface.
// Implementations: ChromemStore (embedded vector DB), SQLiteStore
// (persistent). Stores are responsible for enforcing ID identity: a
// Create with an already-stored ID must be a no-op, since the manager's
// duplicate check and the insert are separate round-trips.
type Store interface {
	// GetByID returns the record with the given ID, or nil if absent.
	GetByID(ctx context.Context, id string) (*Memory, error)

	// Create persists a memory into the given table. When unique is set
	// the store may run a similarity-based duplicate check and skip the
	// insert for near-identical content in the same room.
	Create(ctx context.Context, mem *Memory, tableName string, unique bool) error

	// GetByRoom lists memories in one room, newest first.
	GetByRoom(ctx context.Context, p GetParams) ([]*Memory, error)

	// GetByRoomIDs is the bulk variant of GetByRoom.
	GetByRoomIDs(ctx context.Context, p GetByRoomIDsParams) ([]*Memory, error)

	// SearchByEmbedding returns memories by similarity, best match first.
	SearchByEmbedding(ctx context.Context, p SearchParams) ([]*Memory, error)

	// GetCachedEmbeddings returns embeddings of stored records whose
	// content is within the query threshold, closest first.
	GetCachedEmbeddings(ctx context.Context, p CachedEmbeddingParams) ([]CachedEmbedding, error)

	// Remove deletes one record.
	Remove(ctx context.Context, id string, tableName string) error

	// RemoveAllByRoom deletes every record in a room.
	RemoveAllByRoom(ctx context.Context, roomID string, tableName string) error

	// CountByRoom counts records in a room.
	CountByRoom(ctx context.Context, roomID string, unique bool, tableName string) (int, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), cache (ristretto
// decorator over another Embedder).
type Embedder interface {
	// Embed converts text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// FallbackVector returns the deterministic degraded vector used when
	// Embed fails. It must never be empty.
	FallbackVector() []float32

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
