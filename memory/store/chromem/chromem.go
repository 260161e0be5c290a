// Package chromem implements the memory.Store interface on chromem-go,
// a pure Go embedded vector database.
//
// chromem-go covers similarity search but has no get-by-id or listing
// primitives, so the store keeps a sidecar index of full records next to
// the per-table collections. The index is authoritative for identity,
// listing and counting; the collections serve vector queries.
package chromem

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	chromem "github.com/philippgille/chromem-go"

	"github.com/recallkit/recall-go-sdk/memory"
)

// Cosine similarity above which an insert with the unique flag is
// considered a duplicate of existing room content and skipped.
const uniqueSimilarityThreshold = 0.95

// Store is an in-process memory.Store backed by chromem-go.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // per logical table
	byID        map[string]*record
	byTable     map[string]map[string]*memory.Memory
	logger      *log.Logger
	mu          sync.RWMutex
}

type record struct {
	mem   *memory.Memory
	table string
}

// New creates an empty chromem store. A nil logger falls back to
// log.Default().
func New(logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		byID:        make(map[string]*record),
		byTable:     make(map[string]map[string]*memory.Memory),
		logger:      logger,
	}, nil
}

// getOrCreateCollection returns the collection for a logical table.
func (s *Store) getOrCreateCollection(table string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[table]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if col, exists := s.collections[table]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		fmt.Sprintf("table_%s", table),
		nil, // no collection metadata
		nil, // embeddings are provided, not computed
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[table] = col
	return col, nil
}

// GetByID returns the record with the given ID, or nil if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(rec.mem), nil
}

// Create persists a memory. An already-stored ID is a no-op, which makes
// the identity constraint authoritative even when two concurrent creates
// both pass the manager's duplicate check. With unique set, near-identical
// content in the same room also skips the insert.
func (s *Store) Create(ctx context.Context, mem *memory.Memory, tableName string, unique bool) error {
	col, err := s.getOrCreateCollection(tableName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[mem.ID]; exists {
		s.logger.Debug("id already stored, skipping insert", "memory_id", mem.ID)
		return nil
	}

	if unique && s.hasNearDuplicateLocked(tableName, mem.RoomID, mem.Embedding) {
		s.logger.Debug("near-duplicate content in room, skipping insert",
			"memory_id", mem.ID, "room_id", mem.RoomID)
		return nil
	}

	doc := chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content.Text,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			"room_id":  mem.RoomID,
			"agent_id": mem.AgentID,
			"unique":   strconv.FormatBool(mem.Unique),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	stored := clone(mem)
	s.byID[mem.ID] = &record{mem: stored, table: tableName}
	if s.byTable[tableName] == nil {
		s.byTable[tableName] = make(map[string]*memory.Memory)
	}
	s.byTable[tableName][mem.ID] = stored
	return nil
}

func (s *Store) hasNearDuplicateLocked(table, roomID string, embedding []float32) bool {
	if len(embedding) == 0 {
		return false
	}
	for _, mem := range s.byTable[table] {
		if mem.RoomID != roomID {
			continue
		}
		if cosineSimilarity(embedding, mem.Embedding) >= uniqueSimilarityThreshold {
			return true
		}
	}
	return false
}

// GetByRoom lists memories in one room, newest first.
func (s *Store) GetByRoom(ctx context.Context, p memory.GetParams) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Memory
	for _, mem := range s.byTable[p.TableName] {
		if mem.RoomID != p.RoomID {
			continue
		}
		if !matchesFilters(mem, p.AgentID, p.Unique) {
			continue
		}
		if p.Start != 0 && mem.CreatedAt < p.Start {
			continue
		}
		if p.End != 0 && mem.CreatedAt > p.End {
			continue
		}
		out = append(out, clone(mem))
	}

	sortNewestFirst(out)
	if p.Count > 0 && len(out) > p.Count {
		out = out[:p.Count]
	}
	return out, nil
}

// GetByRoomIDs lists memories across several rooms, newest first.
func (s *Store) GetByRoomIDs(ctx context.Context, p memory.GetByRoomIDsParams) ([]*memory.Memory, error) {
	rooms := make(map[string]struct{}, len(p.RoomIDs))
	for _, id := range p.RoomIDs {
		rooms[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Memory
	for _, mem := range s.byTable[p.TableName] {
		if _, ok := rooms[mem.RoomID]; !ok {
			continue
		}
		if p.AgentID != "" && mem.AgentID != p.AgentID {
			continue
		}
		out = append(out, clone(mem))
	}

	sortNewestFirst(out)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// SearchByEmbedding queries the table's collection and post-filters by
// threshold, room, agent and uniqueness.
func (s *Store) SearchByEmbedding(ctx context.Context, p memory.SearchParams) ([]*memory.Memory, error) {
	s.mu.RLock()
	col := s.collections[p.TableName]
	// chromem rejects nResults above the number of documents matching the
	// where filter, so size the query from the sidecar index.
	nResults := 0
	for _, mem := range s.byTable[p.TableName] {
		if p.RoomID == "" || mem.RoomID == p.RoomID {
			nResults++
		}
	}
	s.mu.RUnlock()
	if col == nil || nResults == 0 {
		return nil, nil
	}

	var where map[string]string
	if p.RoomID != "" {
		where = map[string]string{"room_id": p.RoomID}
	}

	results, err := col.QueryEmbedding(ctx, p.Embedding, nResults, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*memory.Memory
	for _, res := range results {
		if float64(res.Similarity) < p.MatchThreshold {
			continue
		}
		rec, ok := s.byID[res.ID]
		if !ok || rec.table != p.TableName {
			continue
		}
		if !matchesFilters(rec.mem, p.AgentID, p.Unique) {
			continue
		}
		out = append(out, clone(rec.mem))
		if p.Count > 0 && len(out) == p.Count {
			break
		}
	}
	return out, nil
}

// GetCachedEmbeddings returns embeddings of records whose content text is
// within the edit-distance threshold of the query input, closest first.
func (s *Store) GetCachedEmbeddings(ctx context.Context, p memory.CachedEmbeddingParams) ([]memory.CachedEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.CachedEmbedding
	for _, mem := range s.byTable[p.TableName] {
		if len(mem.Embedding) == 0 {
			continue
		}
		dist := levenshtein.ComputeDistance(p.QueryInput, mem.Content.Text)
		if dist > p.QueryThreshold {
			continue
		}
		emb := make([]float32, len(mem.Embedding))
		copy(emb, mem.Embedding)
		out = append(out, memory.CachedEmbedding{
			Embedding:     emb,
			DistanceScore: float64(dist),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceScore < out[j].DistanceScore
	})
	if p.QueryMatchCount > 0 && len(out) > p.QueryMatchCount {
		out = out[:p.QueryMatchCount]
	}
	return out, nil
}

// Remove deletes one record.
func (s *Store) Remove(ctx context.Context, id string, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil
	}

	if col := s.collections[rec.table]; col != nil {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
	}
	delete(s.byID, id)
	delete(s.byTable[rec.table], id)
	return nil
}

// RemoveAllByRoom deletes every record in a room.
func (s *Store) RemoveAllByRoom(ctx context.Context, roomID string, tableName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col := s.collections[tableName]; col != nil {
		if err := col.Delete(ctx, map[string]string{"room_id": roomID}, nil); err != nil {
			return fmt.Errorf("delete room documents: %w", err)
		}
	}
	for id, mem := range s.byTable[tableName] {
		if mem.RoomID == roomID {
			delete(s.byID, id)
			delete(s.byTable[tableName], id)
		}
	}
	return nil
}

// CountByRoom counts records in a room.
func (s *Store) CountByRoom(ctx context.Context, roomID string, unique bool, tableName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mem := range s.byTable[tableName] {
		if mem.RoomID != roomID {
			continue
		}
		if unique && !mem.Unique {
			continue
		}
		count++
	}
	return count, nil
}

// Close releases resources. chromem keeps everything in memory, so there
// is nothing to flush.
func (s *Store) Close() error {
	return nil
}

func matchesFilters(mem *memory.Memory, agentID string, uniqueOnly bool) bool {
	if agentID != "" && mem.AgentID != agentID {
		return false
	}
	if uniqueOnly && !mem.Unique {
		return false
	}
	return true
}

func sortNewestFirst(mems []*memory.Memory) {
	sort.SliceStable(mems, func(i, j int) bool {
		return mems[i].CreatedAt > mems[j].CreatedAt
	})
}

func clone(mem *memory.Memory) *memory.Memory {
	out := *mem
	if mem.Content.Metadata != nil {
		md := *mem.Content.Metadata
		out.Content.Metadata = &md
	}
	return &out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
