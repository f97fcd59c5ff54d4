package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventConsideredChunkIDs      TraceEventKind = "considered_chunk_ids"
	TraceEventUsedChunkIDs            TraceEventKind = "used_chunk_ids"
	TraceEventQueriedEntityKeys       TraceEventKind = "queried_entity_keys"
	TraceEventQueriedRelationshipKeys TraceEventKind = "queried_relationship_keys"
	TraceEventQueriedEntityTypes      TraceEventKind = "queried_entity_types"
	TraceEventResolutionMisses        TraceEventKind = "resolution_misses"
)

// TraceEvent is an extensible event envelope for query tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	ChunkIDs         []string
	EntityKeys       []string
	RelationshipKeys []string
	EntityTypes      []string
	Mentions         []string
}

// Tracer is a sink for query tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func RecordConsideredChunkIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventConsideredChunkIDs, ChunkIDs: ids})
}

func RecordUsedChunkIDs(t Tracer, ids ...string) {
	if t == nil || len(ids) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventUsedChunkIDs, ChunkIDs: ids})
}

func RecordQueriedEntityKeys(t Tracer, keys ...string) {
	if t == nil || len(keys) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityKeys, EntityKeys: keys})
}

func RecordQueriedRelationshipKeys(t Tracer, keys ...string) {
	if t == nil || len(keys) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedRelationshipKeys, RelationshipKeys: keys})
}

func RecordQueriedEntityTypes(t Tracer, types ...string) {
	if t == nil || len(types) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventQueriedEntityTypes, EntityTypes: types})
}

func RecordResolutionMisses(t Tracer, mentions ...string) {
	if t == nil || len(mentions) == 0 {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventResolutionMisses, Mentions: mentions})
}

// QueryTrace collects which parts of the graph a query looked at and which
// ended up in its context.
//
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	consideredChunkIDs      map[string]struct{}
	usedChunkIDs            map[string]struct{}
	queriedEntityKeys       map[string]struct{}
	queriedRelationshipKeys map[string]struct{}
	queriedEntityTypes      map[string]struct{}
	misses                  map[string]struct{}
}

type QueryTraceSnapshot struct {
	ConsideredChunkIDs      []string `json:"considered_chunk_ids"`
	UsedChunkIDs            []string `json:"used_chunk_ids"`
	QueriedEntityKeys       []string `json:"queried_entity_keys"`
	QueriedRelationshipKeys []string `json:"queried_relationship_keys"`
	QueriedEntityTypes      []string `json:"queried_entity_types"`
	Misses                  []string `json:"misses"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		consideredChunkIDs:      make(map[string]struct{}),
		usedChunkIDs:            make(map[string]struct{}),
		queriedEntityKeys:       make(map[string]struct{}),
		queriedRelationshipKeys: make(map[string]struct{}),
		queriedEntityTypes:      make(map[string]struct{}),
		misses:                  make(map[string]struct{}),
	}
}

func addAll(set map[string]struct{}, values []string) {
	for _, v := range values {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventConsideredChunkIDs:
		addAll(t.consideredChunkIDs, event.ChunkIDs)
	case TraceEventUsedChunkIDs:
		addAll(t.usedChunkIDs, event.ChunkIDs)
	case TraceEventQueriedEntityKeys:
		addAll(t.queriedEntityKeys, event.EntityKeys)
	case TraceEventQueriedRelationshipKeys:
		addAll(t.queriedRelationshipKeys, event.RelationshipKeys)
	case TraceEventQueriedEntityTypes:
		addAll(t.queriedEntityTypes, event.EntityTypes)
	case TraceEventResolutionMisses:
		addAll(t.misses, event.Mentions)
	default:
		return
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		ConsideredChunkIDs:      sortedKeys(t.consideredChunkIDs),
		UsedChunkIDs:            sortedKeys(t.usedChunkIDs),
		QueriedEntityKeys:       sortedKeys(t.queriedEntityKeys),
		QueriedRelationshipKeys: sortedKeys(t.queriedRelationshipKeys),
		QueriedEntityTypes:      sortedKeys(t.queriedEntityTypes),
		Misses:                  sortedKeys(t.misses),
	}
}
