// Package sqlite implements the memory.Store interface on SQLite via the
// pure Go modernc.org/sqlite driver. Embeddings are stored as JSON and
// similarity is computed in-process, which is adequate for the record
// volumes a single agent accumulates.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/recallkit/recall-go-sdk/memory"
)

//go:embed schema.sql
var schemaSQL string

// Cosine similarity above which an insert with the unique flag is
// considered a duplicate of existing room content and skipped.
const uniqueSimilarityThreshold = 0.95

// Store is a SQLite-backed memory.Store. The id primary key makes the
// identity constraint authoritative: inserting an existing id is a no-op
// regardless of what the manager's duplicate check observed.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens and initializes the SQLite store. A nil logger falls back to
// log.Default().
func Open(ctx context.Context, dbPath string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

// GetByID returns the record with the given ID, or nil if absent.
func (s *Store) GetByID(ctx context.Context, id string) (*memory.Memory, error) {
	const q = `SELECT id, table_name, room_id, agent_id, content_text, metadata_json,
       embedding_json, is_unique, created_at
FROM memories WHERE id = ? LIMIT 1`
	mem, _, err := scanMemory(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return mem, nil
}

// Create persists a memory via INSERT OR IGNORE. With unique set, a
// similarity pre-check against existing room content skips near-duplicate
// inserts.
func (s *Store) Create(ctx context.Context, mem *memory.Memory, tableName string, unique bool) error {
	if unique {
		dup, err := s.hasNearDuplicate(ctx, tableName, mem.RoomID, mem.Embedding)
		if err != nil {
			return err
		}
		if dup {
			s.logger.Debug("near-duplicate content in room, skipping insert",
				"memory_id", mem.ID, "room_id", mem.RoomID)
			return nil
		}
	}

	metaJSON, err := json.Marshal(mem.Content.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	embJSON, err := json.Marshal(mem.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	isUnique := 0
	if mem.Unique {
		isUnique = 1
	}

	const q = `INSERT OR IGNORE INTO memories (
		id, table_name, room_id, agent_id, content_text, metadata_json,
		embedding_json, is_unique, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		mem.ID,
		tableName,
		mem.RoomID,
		mem.AgentID,
		mem.Content.Text,
		string(metaJSON),
		string(embJSON),
		isUnique,
		mem.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("id already stored, insert ignored", "memory_id", mem.ID)
	}
	return nil
}

func (s *Store) hasNearDuplicate(ctx context.Context, tableName, roomID string, embedding []float32) (bool, error) {
	if len(embedding) == 0 {
		return false, nil
	}
	const q = `SELECT embedding_json FROM memories WHERE table_name = ? AND room_id = ?`
	rows, err := s.db.QueryContext(ctx, q, tableName, roomID)
	if err != nil {
		return false, fmt.Errorf("query room embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var embJSON string
		if err := rows.Scan(&embJSON); err != nil {
			return false, err
		}
		var existing []float32
		if err := json.Unmarshal([]byte(embJSON), &existing); err != nil {
			continue
		}
		if cosineSimilarity(embedding, existing) >= uniqueSimilarityThreshold {
			return true, nil
		}
	}
	return false, rows.Err()
}

// GetByRoom lists memories in one room, newest first.
func (s *Store) GetByRoom(ctx context.Context, p memory.GetParams) ([]*memory.Memory, error) {
	base := `SELECT id, table_name, room_id, agent_id, content_text, metadata_json,
       embedding_json, is_unique, created_at
FROM memories WHERE table_name = ? AND room_id = ?`
	args := []any{p.TableName, p.RoomID}

	if p.AgentID != "" {
		base += " AND agent_id = ?"
		args = append(args, p.AgentID)
	}
	if p.Unique {
		base += " AND is_unique = 1"
	}
	if p.Start != 0 {
		base += " AND created_at >= ?"
		args = append(args, p.Start)
	}
	if p.End != 0 {
		base += " AND created_at <= ?"
		args = append(args, p.End)
	}
	base += " ORDER BY created_at DESC"
	if p.Count > 0 {
		base += " LIMIT ?"
		args = append(args, p.Count)
	}

	return s.queryMemories(ctx, base, args...)
}

// GetByRoomIDs lists memories across several rooms, newest first.
func (s *Store) GetByRoomIDs(ctx context.Context, p memory.GetByRoomIDsParams) ([]*memory.Memory, error) {
	if len(p.RoomIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(p.RoomIDs)), ", ")
	base := fmt.Sprintf(`SELECT id, table_name, room_id, agent_id, content_text, metadata_json,
       embedding_json, is_unique, created_at
FROM memories WHERE table_name = ? AND room_id IN (%s)`, placeholders)

	args := make([]any, 0, len(p.RoomIDs)+2)
	args = append(args, p.TableName)
	for _, id := range p.RoomIDs {
		args = append(args, id)
	}
	if p.AgentID != "" {
		base += " AND agent_id = ?"
		args = append(args, p.AgentID)
	}
	base += " ORDER BY created_at DESC"
	if p.Limit > 0 {
		base += " LIMIT ?"
		args = append(args, p.Limit)
	}

	return s.queryMemories(ctx, base, args...)
}

// SearchByEmbedding loads the room's candidates and ranks them by cosine
// similarity in-process, best match first.
func (s *Store) SearchByEmbedding(ctx context.Context, p memory.SearchParams) ([]*memory.Memory, error) {
	base := `SELECT id, table_name, room_id, agent_id, content_text, metadata_json,
       embedding_json, is_unique, created_at
FROM memories WHERE table_name = ?`
	args := []any{p.TableName}

	if p.RoomID != "" {
		base += " AND room_id = ?"
		args = append(args, p.RoomID)
	}
	if p.AgentID != "" {
		base += " AND agent_id = ?"
		args = append(args, p.AgentID)
	}
	if p.Unique {
		base += " AND is_unique = 1"
	}

	candidates, err := s.queryMemories(ctx, base, args...)
	if err != nil {
		return nil, err
	}

	type scored struct {
		mem   *memory.Memory
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, mem := range candidates {
		score := cosineSimilarity(p.Embedding, mem.Embedding)
		if score < p.MatchThreshold {
			continue
		}
		ranked = append(ranked, scored{mem: mem, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]*memory.Memory, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.mem)
		if p.Count > 0 && len(out) == p.Count {
			break
		}
	}
	return out, nil
}

// GetCachedEmbeddings returns embeddings of records whose content text is
// within the edit-distance threshold of the query input, closest first.
func (s *Store) GetCachedEmbeddings(ctx context.Context, p memory.CachedEmbeddingParams) ([]memory.CachedEmbedding, error) {
	const q = `SELECT content_text, embedding_json FROM memories WHERE table_name = ?`
	rows, err := s.db.QueryContext(ctx, q, p.TableName)
	if err != nil {
		return nil, fmt.Errorf("query cached embeddings: %w", err)
	}
	defer rows.Close()

	var out []memory.CachedEmbedding
	for rows.Next() {
		var text, embJSON string
		if err := rows.Scan(&text, &embJSON); err != nil {
			return nil, err
		}
		dist := levenshtein.ComputeDistance(p.QueryInput, text)
		if dist > p.QueryThreshold {
			continue
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil || len(emb) == 0 {
			continue
		}
		out = append(out, memory.CachedEmbedding{
			Embedding:     emb,
			DistanceScore: float64(dist),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove memory: %w", err)
	}
	return nil
}

// RemoveAllByRoom deletes every record in a room.
func (s *Store) RemoveAllByRoom(ctx context.Context, roomID string, tableName string) error {
	const q = `DELETE FROM memories WHERE table_name = ? AND room_id = ?`
	if _, err := s.db.ExecContext(ctx, q, tableName, roomID); err != nil {
		return fmt.Errorf("remove room memories: %w", err)
	}
	return nil
}

// CountByRoom counts records in a room.
func (s *Store) CountByRoom(ctx context.Context, roomID string, unique bool, tableName string) (int, error) {
	q := `SELECT count(*) FROM memories WHERE table_name = ? AND room_id = ?`
	if unique {
		q += " AND is_unique = 1"
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, tableName, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count room memories: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		mem, _, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(sc scanner) (*memory.Memory, string, error) {
	var (
		mem       memory.Memory
		tableName string
		metaJSON  string
		embJSON   string
		isUnique  int
	)
	err := sc.Scan(
		&mem.ID,
		&tableName,
		&mem.RoomID,
		&mem.AgentID,
		&mem.Content.Text,
		&metaJSON,
		&embJSON,
		&isUnique,
		&mem.CreatedAt,
	)
	if err != nil {
		return nil, "", err
	}

	if err := json.Unmarshal([]byte(metaJSON), &mem.Content.Metadata); err != nil {
		return nil, "", fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(embJSON), &mem.Embedding); err != nil {
		return nil, "", fmt.Errorf("unmarshal embedding: %w", err)
	}
	mem.Unique = isUnique == 1
	return &mem, tableName, nil
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
