package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/common"
	"github.com/OFFIS-RIT/kiwi/graphrag/pkg/logger"
)

type snapshot struct {
	Entities      []common.Entity       `json:"entities"`
	Relationships []common.Relationship `json:"relationships"`
	Chunks        []common.Chunk        `json:"chunks"`
}

// Save writes the committed graph to path as JSON. The file is replaced
// atomically.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshot{
		Entities:      make([]common.Entity, len(s.entities)),
		Relationships: make([]common.Relationship, len(s.relationships)),
		Chunks:        make([]common.Chunk, 0, len(s.chunks)),
	}
	copy(snap.Entities, s.entities)
	copy(snap.Relationships, s.relationships)
	for _, c := range s.chunks {
		snap.Chunks = append(snap.Chunks, c)
	}
	s.mu.RUnlock()

	slices.SortFunc(snap.Chunks, func(a, b common.Chunk) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	logger.Debug("[Store] Saved snapshot", "path", path, "entities", len(snap.Entities), "relationships", len(snap.Relationships))
	return nil
}

// Load replaces the contents of the store with the snapshot at path. A
// missing file yields an error matching os.ErrNotExist.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	fresh := New()
	for _, e := range snap.Entities {
		if _, ok := fresh.entityIdx[e.Key]; ok {
			return fmt.Errorf("snapshot contains duplicate entity %q", e.Key)
		}
		fresh.entityIdx[e.Key] = len(fresh.entities)
		fresh.entities = append(fresh.entities, e)
	}
	for _, r := range snap.Relationships {
		p := r.Pair()
		if _, ok := fresh.relIdx[p]; ok {
			return fmt.Errorf("snapshot contains duplicate relationship %s", p)
		}
		for _, k := range []string{p.Source, p.Target} {
			if _, ok := fresh.entityIdx[k]; !ok {
				return fmt.Errorf("snapshot relationship %s references unknown entity %q", p, k)
			}
		}
		idx := len(fresh.relationships)
		fresh.relIdx[p] = idx
		fresh.relationships = append(fresh.relationships, r)
		fresh.adjacency[p.Source] = append(fresh.adjacency[p.Source], idx)
		if p.Target != p.Source {
			fresh.adjacency[p.Target] = append(fresh.adjacency[p.Target], idx)
		}
	}
	for _, c := range snap.Chunks {
		fresh.chunks[c.ID] = c
	}

	s.mu.Lock()
	s.entities = fresh.entities
	s.entityIdx = fresh.entityIdx
	s.relationships = fresh.relationships
	s.relIdx = fresh.relIdx
	s.adjacency = fresh.adjacency
	s.chunks = fresh.chunks
	s.mu.Unlock()

	logger.Info("[Store] Loaded snapshot", "path", path, "entities", len(snap.Entities), "relationships", len(snap.Relationships))
	return nil
}
