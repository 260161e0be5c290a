package memory

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Fixed query shape for cached-embedding lookups. The store matches the
// input against the text subfield of stored content and returns the
// closest embeddings by edit distance.
const (
	cachedEmbeddingThreshold  = 2
	cachedEmbeddingFieldName  = "content"
	cachedEmbeddingSubField   = "text"
	cachedEmbeddingMatchCount = 10
)

// Manager governs the lifecycle of memory records for one logical table:
// validation, metadata defaulting, embedding enforcement, idempotent
// creation, type-based routing and read/delete/count passthrough.
//
// A Manager holds no mutable state beyond its configuration; concurrent
// calls are safe as long as the Store and Embedder are. Concurrent creates
// for the same new ID can both pass the duplicate check, so backends
// enforce ID identity on insert.
type Manager struct {
	store    Store
	embedder Embedder
	cfg      Config
	logger   *log.Logger
}

// NewManager constructs a manager over the given store and embedder.
// A nil logger falls back to log.Default().
func NewManager(store Store, embedder Embedder, cfg Config, logger *log.Logger) (*Manager, error) {
	if store == nil {
		return nil, goerr.New("store is required")
	}
	if embedder == nil {
		return nil, goerr.New("embedder is required")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("table", cfg.TableName),
	}, nil
}

// TableName returns the manager's configured logical table.
func (m *Manager) TableName() string {
	return m.cfg.TableName
}

// CreateMemory validates, enriches and persists one memory record.
//
// An ID is assigned when absent. Creating an ID that already exists is a
// successful no-op, never an overwrite. Missing metadata is synthesized
// from the manager's configuration; present metadata is validated and
// only its absent fields are backfilled. The record is guaranteed to
// carry an embedding before it reaches the store, falling back to the
// embedder's degraded vector if embedding fails. The target table is
// resolved from the metadata type.
func (m *Manager) CreateMemory(ctx context.Context, mem *Memory, unique bool) error {
	if mem == nil {
		return goerr.Wrap(ErrValidation, "memory is required")
	}
	if mem.ID == "" {
		mem.ID = uuid.NewString()
	}

	existing, err := m.store.GetByID(ctx, mem.ID)
	if err != nil {
		return goerr.Wrap(err, "lookup existing memory", goerr.V("memory_id", mem.ID))
	}
	if existing != nil {
		m.logger.Debug("memory already exists, skipping create", "memory_id", mem.ID)
		return nil
	}

	now := time.Now().UnixMilli()
	if mem.Content.Metadata == nil {
		mem.Content.Metadata = &Metadata{
			Type:      m.cfg.DefaultType,
			Source:    m.cfg.TableName,
			Scope:     m.scopeFor(mem.AgentID),
			Timestamp: now,
		}
	} else {
		if err := ValidateMetadata(mem.Content.Metadata); err != nil {
			return err
		}
		md := mem.Content.Metadata
		if md.Timestamp == 0 {
			md.Timestamp = now
		}
		if md.Scope == "" {
			md.Scope = m.scopeFor(mem.AgentID)
		}
		if md.Source == "" {
			md.Source = m.cfg.TableName
		}
	}
	if mem.CreatedAt == 0 {
		mem.CreatedAt = now
	}

	if _, err := m.AddEmbedding(ctx, mem); err != nil {
		return err
	}

	table := m.resolveTable(mem.Content.Metadata.Type)
	mem.Unique = unique

	if err := m.store.Create(ctx, mem, table, unique); err != nil {
		return goerr.Wrap(err, "create memory", goerr.V("memory_id", mem.ID), goerr.V("table", table))
	}

	m.logger.Debug("memory created",
		"memory_id", mem.ID,
		"room_id", mem.RoomID,
		"type", mem.Content.Metadata.Type,
		"routed_table", table)
	return nil
}

// AddEmbedding guarantees the memory carries an embedding. An already-set
// embedding is returned untouched; embeddings are immutable once set.
// Embedding empty text fails with ErrEmptyContent. An embedder failure is
// recovered locally with the fallback vector and never surfaced: a
// degraded embedding beats a failed create.
func (m *Manager) AddEmbedding(ctx context.Context, mem *Memory) (*Memory, error) {
	if len(mem.Embedding) > 0 {
		return mem, nil
	}
	if strings.TrimSpace(mem.Content.Text) == "" {
		return nil, goerr.Wrap(ErrEmptyContent, "add embedding", goerr.V("memory_id", mem.ID))
	}

	vec, err := m.embedder.Embed(ctx, mem.Content.Text)
	if err != nil {
		m.logger.Warn("embedding failed, using fallback vector",
			"memory_id", mem.ID, "error", err)
		vec = m.embedder.FallbackVector()
	}
	mem.Embedding = vec
	return mem, nil
}

// GetOptions selects memories within one room.
type GetOptions struct {
	RoomID  string
	Count   int
	Unique  bool
	Start   int64
	End     int64
	AgentID string
}

// GetMemories lists memories in a room from the manager's table, newest
// first.
func (m *Manager) GetMemories(ctx context.Context, opts GetOptions) ([]*Memory, error) {
	return m.store.GetByRoom(ctx, GetParams{
		TableName: m.cfg.TableName,
		RoomID:    opts.RoomID,
		Count:     opts.Count,
		Unique:    opts.Unique,
		Start:     opts.Start,
		End:       opts.End,
		AgentID:   opts.AgentID,
	})
}

// GetByRoomIDsOptions selects memories across several rooms.
type GetByRoomIDsOptions struct {
	RoomIDs []string
	Limit   int
	AgentID string
}

// GetMemoriesByRoomIDs is the bulk variant of GetMemories.
func (m *Manager) GetMemoriesByRoomIDs(ctx context.Context, opts GetByRoomIDsOptions) ([]*Memory, error) {
	return m.store.GetByRoomIDs(ctx, GetByRoomIDsParams{
		TableName: m.cfg.TableName,
		RoomIDs:   opts.RoomIDs,
		Limit:     opts.Limit,
		AgentID:   opts.AgentID,
	})
}

// SearchOptions tunes SearchMemories. Zero MatchThreshold and Count fall
// back to the configured defaults; a nil Unique defaults to true.
type SearchOptions struct {
	RoomID         string
	AgentID        string
	MatchThreshold float64
	Count          int
	Unique         *bool
}

// SearchMemories returns memories from the manager's table by vector
// similarity, best match first.
func (m *Manager) SearchMemories(ctx context.Context, embedding []float32, opts SearchOptions) ([]*Memory, error) {
	if len(embedding) == 0 {
		return nil, goerr.New("search embedding is required")
	}

	threshold := opts.MatchThreshold
	if threshold == 0 {
		threshold = m.cfg.MatchThreshold
	}
	count := opts.Count
	if count == 0 {
		count = m.cfg.SearchCount
	}
	unique := true
	if opts.Unique != nil {
		unique = *opts.Unique
	}

	return m.store.SearchByEmbedding(ctx, SearchParams{
		TableName:      m.cfg.TableName,
		RoomID:         opts.RoomID,
		AgentID:        opts.AgentID,
		Embedding:      embedding,
		MatchThreshold: threshold,
		Count:          count,
		Unique:         unique,
	})
}

// GetCachedEmbeddings returns previously computed embeddings for content
// close to the given text, closest first. Useful to skip re-embedding
// near-identical inputs.
func (m *Manager) GetCachedEmbeddings(ctx context.Context, content string) ([]CachedEmbedding, error) {
	if content == "" {
		return nil, goerr.New("content is required for cached embedding lookup")
	}
	return m.store.GetCachedEmbeddings(ctx, CachedEmbeddingParams{
		TableName:         m.cfg.TableName,
		QueryInput:        content,
		QueryThreshold:    cachedEmbeddingThreshold,
		QueryFieldName:    cachedEmbeddingFieldName,
		QueryFieldSubName: cachedEmbeddingSubField,
		QueryMatchCount:   cachedEmbeddingMatchCount,
	})
}

// GetMemoryByID fetches one record. A record owned by a different agent
// reads as absent, so direct ID lookups cannot leak across agents.
func (m *Manager) GetMemoryByID(ctx context.Context, id string) (*Memory, error) {
	mem, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "get memory by id", goerr.V("memory_id", id))
	}
	if mem == nil {
		return nil, nil
	}
	if mem.AgentID != "" && mem.AgentID != m.cfg.AgentID {
		m.logger.Debug("memory belongs to another agent, hiding",
			"memory_id", id, "owner", mem.AgentID)
		return nil, nil
	}
	return mem, nil
}

// RemoveMemory deletes one record from the manager's table.
func (m *Manager) RemoveMemory(ctx context.Context, id string) error {
	return m.store.Remove(ctx, id, m.cfg.TableName)
}

// RemoveAllMemories deletes every record in a room from the manager's
// table.
func (m *Manager) RemoveAllMemories(ctx context.Context, roomID string) error {
	return m.store.RemoveAllByRoom(ctx, roomID, m.cfg.TableName)
}

// CountMemories counts the records in a room in the manager's table.
func (m *Manager) CountMemories(ctx context.Context, roomID string, unique bool) (int, error) {
	return m.store.CountByRoom(ctx, roomID, unique, m.cfg.TableName)
}

// resolveTable routes a record to its logical table by metadata type,
// falling back to the manager's own table for anything unrecognized.
func (m *Manager) resolveTable(t MemoryType) string {
	switch t {
	case TypeDocument, TypeFragment:
		return TableKnowledge
	case TypeMessage:
		return TableMessages
	case TypeFact:
		return TableFacts
	default:
		return m.cfg.TableName
	}
}

// scopeFor derives the default scope from ownership: agent-owned records
// are private, agent-less ones shared.
func (m *Manager) scopeFor(agentID string) Scope {
	if agentID != "" {
		return ScopePrivate
	}
	return ScopeShared
}
