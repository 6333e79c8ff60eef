// Package store provides storage backends for flow definitions and triggers.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backends with embedded migrations.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/google/uuid"
)

// Store defines persistence operations for flows and flow-level triggers.
// Read operations return (nil, nil) when the record does not exist.
type Store interface {
	// CreateFlow persists a flow definition. Client-side temporary node IDs
	// are remapped to server-generated IDs; references in edges, node
	// triggers, and list options are rewritten accordingly.
	CreateFlow(f models.Flow) (*models.Flow, error)

	// GetFlowByID returns a flow with its full node and edge collections.
	GetFlowByID(id string) (*models.Flow, error)

	// ListFlows returns all flows with nodes and edges resolved.
	ListFlows() ([]models.Flow, error)

	// UpdateFlow replaces the flow's metadata and, when nodes are provided,
	// its whole node/edge set.
	UpdateFlow(id string, f models.Flow) (*models.Flow, error)

	// DeleteFlow removes a flow and, in cascade, its nodes, edges, and triggers.
	DeleteFlow(id string) error

	// MostRecentActiveFlow returns the most recently created active flow,
	// used as the fallback when no trigger matches an inbound message.
	MostRecentActiveFlow() (*models.Flow, error)

	// CreateTrigger persists a flow-level trigger.
	CreateTrigger(t models.Trigger) (*models.Trigger, error)

	// ListActiveTriggers returns the triggers of all active flows.
	ListActiveTriggers() ([]models.Trigger, error)

	// DeleteTriggersByFlow removes all triggers registered for a flow.
	DeleteTriggersByFlow(flowID string) error

	// Close releases backend resources.
	Close() error
}

// InMemoryStore keeps flows and triggers in process memory. Used in tests
// and when no database DSN is configured.
type InMemoryStore struct {
	mu       sync.RWMutex
	flows    map[string]models.Flow
	triggers map[string]models.Trigger
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flows:    make(map[string]models.Flow),
		triggers: make(map[string]models.Trigger),
	}
}

// remapNodeIDs assigns server IDs to every node and rewrites all references
// to the client-side temporary IDs (edges, trigger overrides, list options).
func remapNodeIDs(f *models.Flow) {
	idMap := make(map[string]string, len(f.Nodes))
	for i := range f.Nodes {
		newID := uuid.NewString()
		idMap[f.Nodes[i].ID] = newID
		f.Nodes[i].ID = newID
	}
	rewrite := func(ref string) string {
		if mapped, ok := idMap[ref]; ok {
			return mapped
		}
		return ref
	}
	for i := range f.Edges {
		if f.Edges[i].ID == "" {
			f.Edges[i].ID = uuid.NewString()
		}
		f.Edges[i].Source = rewrite(f.Edges[i].Source)
		f.Edges[i].Target = rewrite(f.Edges[i].Target)
	}
	for i := range f.Nodes {
		data := &f.Nodes[i].Data
		for j := range data.Triggers {
			if data.Triggers[j].NextNodeID != "" {
				data.Triggers[j].NextNodeID = rewrite(data.Triggers[j].NextNodeID)
			}
		}
		for j := range data.Options {
			if data.Options[j].NextNodeID != "" {
				data.Options[j].NextNodeID = rewrite(data.Options[j].NextNodeID)
			}
		}
	}
}

func (s *InMemoryStore) CreateFlow(f models.Flow) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	f.ID = uuid.NewString()
	f.Active = true
	f.CreatedAt = now
	f.UpdatedAt = now
	remapNodeIDs(&f)
	s.flows[f.ID] = f
	out := f
	return &out, nil
}

func (s *InMemoryStore) GetFlowByID(id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	out := f
	return &out, nil
}

func (s *InMemoryStore) ListFlows() ([]models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]models.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, f)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })
	return flows, nil
}

func (s *InMemoryStore) UpdateFlow(id string, upd models.Flow) (*models.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, nil
	}
	if upd.Name != "" {
		f.Name = upd.Name
	}
	if upd.Description != "" {
		f.Description = upd.Description
	}
	if upd.InstanceName != "" {
		f.InstanceName = upd.InstanceName
	}
	f.Active = upd.Active
	if upd.Nodes != nil {
		f.Nodes = upd.Nodes
		f.Edges = upd.Edges
		remapNodeIDs(&f)
	}
	f.UpdatedAt = time.Now()
	s.flows[id] = f
	out := f
	return &out, nil
}

func (s *InMemoryStore) DeleteFlow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	for tid, t := range s.triggers {
		if t.FlowID == id {
			delete(s.triggers, tid)
		}
	}
	return nil
}

func (s *InMemoryStore) MostRecentActiveFlow() (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Flow
	for id := range s.flows {
		f := s.flows[id]
		if !f.Active {
			continue
		}
		if latest == nil || f.CreatedAt.After(latest.CreatedAt) {
			copied := f
			latest = &copied
		}
	}
	return latest, nil
}

func (s *InMemoryStore) CreateTrigger(t models.Trigger) (*models.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = uuid.NewString()
	s.triggers[t.ID] = t
	out := t
	return &out, nil
}

func (s *InMemoryStore) ListActiveTriggers() ([]models.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var triggers []models.Trigger
	for _, t := range s.triggers {
		f, ok := s.flows[t.FlowID]
		if !ok || !f.Active {
			continue
		}
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].ID < triggers[j].ID })
	return triggers, nil
}

func (s *InMemoryStore) DeleteTriggersByFlow(flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.triggers {
		if t.FlowID == flowID {
			delete(s.triggers, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
