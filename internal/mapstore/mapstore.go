// ============================================================================
// LAPS Map Store - Map Images and Dimensions
// ============================================================================
//
// Package: internal/mapstore
// Purpose: Stores map images and their dimensions in the coordination store.
// The dispatcher only needs the dimensions for bound checking; the image
// bytes are served verbatim by the web layer. Conversion from source formats
// into the stored image happens upstream and is out of scope here.
//
// ============================================================================

package mapstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/LAPS-Group/laps/internal/store"
	"github.com/LAPS-Group/laps/pkg/types"
)

// ErrNotFound is returned when no map exists with the requested id.
var ErrNotFound = errors.New("map not found")

// Store provides access to stored maps.
type Store struct {
	store *store.Store
}

// New creates a map store on top of the coordination store.
func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Put stores a map image with its dimensions and returns the allocated map
// id. Ids come from an atomic counter and are never reused.
func (m *Store) Put(ctx context.Context, data []byte, meta types.MapMeta) (int32, error) {
	if meta.Width == 0 || meta.Height == 0 {
		return 0, fmt.Errorf("map dimensions must be non-zero, got %dx%d", meta.Width, meta.Height)
	}

	id, err := m.store.Incr(ctx, m.store.MapIDKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("allocating map id: %w", err)
	}
	field := strconv.FormatInt(id, 10)

	metaJSON, _ := json.Marshal(meta)
	if err := m.store.HSet(ctx, m.store.MapMetaKey(), field, metaJSON).Err(); err != nil {
		return 0, fmt.Errorf("storing map metadata: %w", err)
	}
	if err := m.store.HSet(ctx, m.store.MapDataKey(), field, data).Err(); err != nil {
		return 0, fmt.Errorf("storing map data: %w", err)
	}
	return int32(id), nil
}

// Meta returns the dimensions of a map.
func (m *Store) Meta(ctx context.Context, id int32) (types.MapMeta, error) {
	raw, err := m.store.HGet(ctx, m.store.MapMetaKey(), strconv.FormatInt(int64(id), 10)).Result()
	if errors.Is(err, redis.Nil) {
		return types.MapMeta{}, ErrNotFound
	}
	if err != nil {
		return types.MapMeta{}, fmt.Errorf("reading map metadata: %w", err)
	}
	var meta types.MapMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return types.MapMeta{}, fmt.Errorf("parsing map metadata for map %d: %w", id, err)
	}
	return meta, nil
}

// Data returns the stored image bytes of a map.
func (m *Store) Data(ctx context.Context, id int32) ([]byte, error) {
	data, err := m.store.HGet(ctx, m.store.MapDataKey(), strconv.FormatInt(int64(id), 10)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading map data: %w", err)
	}
	return data, nil
}

// List returns the ids of all stored maps in ascending order.
func (m *Store) List(ctx context.Context) ([]int32, error) {
	fields, err := m.store.HKeys(ctx, m.store.MapMetaKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing maps: %w", err)
	}

	ids := make([]int32, 0, len(fields))
	for _, field := range fields {
		id, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			// A non-numeric field is stray data, not a map.
			continue
		}
		ids = append(ids, int32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
