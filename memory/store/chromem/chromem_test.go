package chromem

import (
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallkit/recall-go-sdk/memory"
	"github.com/recallkit/recall-go-sdk/memory/embedder/mock"
)

var _ memory.Store = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(log.NewWithOptions(io.Discard, log.Options{}))
	require.NoError(t, err)
	return s
}

func embedText(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := mock.New().Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func newMemory(t *testing.T, id, roomID, text string, createdAt int64) *memory.Memory {
	t.Helper()
	return &memory.Memory{
		ID:        id,
		RoomID:    roomID,
		Content:   memory.Content{Text: text},
		Embedding: embedText(t, text),
		CreatedAt: createdAt,
	}
}

func TestStore_CreateAndGetByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mem := newMemory(t, "m1", "r1", "hello world", 1)
	require.NoError(t, s.Create(ctx, mem, memory.TableKnowledge, false))

	got, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello world", got.Content.Text)

	// Returned record is a copy, not the stored one.
	got.Content.Text = "mutated"
	again, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", again.Content.Text)

	missing, err := s.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_CreateDuplicateIDIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "original", 1), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "changed", 2), memory.TableKnowledge, false))

	got, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content.Text)

	n, err := s.CountByRoom(ctx, "r1", false, memory.TableKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_UniqueInsertSkipsNearDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "identical text", 1), memory.TableKnowledge, true))
	// Identical embedding in the same room: skipped.
	require.NoError(t, s.Create(ctx, newMemory(t, "m2", "r1", "identical text", 2), memory.TableKnowledge, true))
	// Same content in a different room: inserted.
	require.NoError(t, s.Create(ctx, newMemory(t, "m3", "r2", "identical text", 3), memory.TableKnowledge, true))

	got, err := s.GetByID(ctx, "m2")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetByID(ctx, "m3")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestStore_GetByRoom(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := newMemory(t, "m1", "r1", "first", 100)
	second := newMemory(t, "m2", "r1", "second", 200)
	second.AgentID = "a1"
	second.Unique = true
	third := newMemory(t, "m3", "r1", "third", 300)
	other := newMemory(t, "m4", "r2", "other room", 400)

	for _, mem := range []*memory.Memory{first, second, third, other} {
		require.NoError(t, s.Create(ctx, mem, memory.TableKnowledge, false))
	}

	mems, err := s.GetByRoom(ctx, memory.GetParams{TableName: memory.TableKnowledge, RoomID: "r1"})
	require.NoError(t, err)
	require.Len(t, mems, 3)
	assert.Equal(t, "m3", mems[0].ID, "newest first")
	assert.Equal(t, "m1", mems[2].ID)

	mems, err = s.GetByRoom(ctx, memory.GetParams{TableName: memory.TableKnowledge, RoomID: "r1", Count: 2})
	require.NoError(t, err)
	assert.Len(t, mems, 2)

	mems, err = s.GetByRoom(ctx, memory.GetParams{TableName: memory.TableKnowledge, RoomID: "r1", Unique: true})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m2", mems[0].ID)

	mems, err = s.GetByRoom(ctx, memory.GetParams{TableName: memory.TableKnowledge, RoomID: "r1", AgentID: "a1"})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m2", mems[0].ID)

	mems, err = s.GetByRoom(ctx, memory.GetParams{TableName: memory.TableKnowledge, RoomID: "r1", Start: 150, End: 250})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m2", mems[0].ID)
}

func TestStore_GetByRoomIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "one", 1), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m2", "r2", "two", 2), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m3", "r3", "three", 3), memory.TableKnowledge, false))

	mems, err := s.GetByRoomIDs(ctx, memory.GetByRoomIDsParams{
		TableName: memory.TableKnowledge,
		RoomIDs:   []string{"r1", "r3"},
	})
	require.NoError(t, err)
	require.Len(t, mems, 2)
	assert.Equal(t, "m3", mems[0].ID)

	mems, err = s.GetByRoomIDs(ctx, memory.GetByRoomIDsParams{
		TableName: memory.TableKnowledge,
		RoomIDs:   []string{"r1", "r2", "r3"},
		Limit:     1,
	})
	require.NoError(t, err)
	assert.Len(t, mems, 1)
}

func TestStore_SearchByEmbedding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	target := newMemory(t, "m1", "r1", "the exact text we search for", 1)
	noise := newMemory(t, "m2", "r1", "completely unrelated content", 2)
	require.NoError(t, s.Create(ctx, target, memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, noise, memory.TableKnowledge, false))

	mems, err := s.SearchByEmbedding(ctx, memory.SearchParams{
		TableName:      memory.TableKnowledge,
		RoomID:         "r1",
		Embedding:      embedText(t, "the exact text we search for"),
		MatchThreshold: 0.9,
		Count:          10,
	})
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "m1", mems[0].ID)

	// Empty table: no results, no error.
	mems, err = s.SearchByEmbedding(ctx, memory.SearchParams{
		TableName: memory.TableFacts,
		Embedding: embedText(t, "anything"),
	})
	require.NoError(t, err)
	assert.Empty(t, mems)
}

func TestStore_GetCachedEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "hello world", 1), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m2", "r1", "unrelated text entirely", 2), memory.TableKnowledge, false))

	cached, err := s.GetCachedEmbeddings(ctx, memory.CachedEmbeddingParams{
		TableName:       memory.TableKnowledge,
		QueryInput:      "hello worlds",
		QueryThreshold:  2,
		QueryMatchCount: 10,
	})
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.InDelta(t, 1.0, cached[0].DistanceScore, 1e-9)
	assert.NotEmpty(t, cached[0].Embedding)
}

func TestStore_RemoveAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "one", 1), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m2", "r1", "two", 2), memory.TableKnowledge, false))

	require.NoError(t, s.Remove(ctx, "m1", memory.TableKnowledge))
	got, err := s.GetByID(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := s.CountByRoom(ctx, "r1", false, memory.TableKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Removing an absent id is fine.
	require.NoError(t, s.Remove(ctx, "m1", memory.TableKnowledge))
}

func TestStore_RemoveAllByRoom(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newMemory(t, "m1", "r1", "one", 1), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m2", "r1", "two", 2), memory.TableKnowledge, false))
	require.NoError(t, s.Create(ctx, newMemory(t, "m3", "r2", "keep", 3), memory.TableKnowledge, false))

	require.NoError(t, s.RemoveAllByRoom(ctx, "r1", memory.TableKnowledge))

	n, err := s.CountByRoom(ctx, "r1", false, memory.TableKnowledge)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.CountByRoom(ctx, "r2", false, memory.TableKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
