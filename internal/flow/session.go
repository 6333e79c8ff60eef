// Package flow implements the conversation engine that walks persisted
// WhatsApp flows as contacts exchange messages with the bot.
package flow

import (
	"log/slog"
	"sync"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// Session lifecycle constants.
const (
	// SessionTimeout is how long a session may sit idle before the sweep
	// expires it.
	SessionTimeout = 30 * time.Minute
	// SweepCronSpec drives the periodic expiry sweep.
	SweepCronSpec = "*/5 * * * *"
)

// Visit records one node the conversation passed through.
type Visit struct {
	NodeID    string
	Timestamp time.Time
}

// Session is the in-memory, per-contact record of where a conversation
// currently is. It is owned exclusively by the engine; all mutation happens
// while the contact's entry lock is held.
type Session struct {
	UserID            string
	FlowID            string
	CurrentNodeID     string
	InstanceName      string
	ExpectedResponses []string
	AwaitingResponse  bool
	ActiveTriggers    []models.NodeTrigger
	LastInteraction   time.Time
	Context           map[string]string
	History           []Visit

	// Clarifying is set while the out-of-context dialog is open;
	// PreviousNodeID then holds the node to restore on a negative answer.
	Clarifying     bool
	PreviousNodeID string
}

// Touch marks the session as just used, resetting the expiry window.
func (s *Session) Touch() {
	s.LastInteraction = time.Now()
}

// Visit appends a node to the session history and makes it current.
func (s *Session) Visit(nodeID string) {
	s.CurrentNodeID = nodeID
	s.History = append(s.History, Visit{NodeID: nodeID, Timestamp: time.Now()})
}

// SessionStore is the registry of active sessions, at most one per contact.
// Besides the map lock it hands out per-contact entry locks so concurrent
// inbound events for the same contact serialize instead of interleaving
// mutations of one session.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// LockUser acquires the contact's entry lock and returns the release func.
func (ss *SessionStore) LockUser(userID string) func() {
	ss.lockMu.Lock()
	l, ok := ss.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		ss.locks[userID] = l
	}
	ss.lockMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Get returns the contact's active session, or nil.
func (ss *SessionStore) Get(userID string) *Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.sessions[userID]
}

// Put registers a session, replacing any previous one for the contact.
func (ss *SessionStore) Put(s *Session) {
	ss.mu.Lock()
	ss.sessions[s.UserID] = s
	ss.mu.Unlock()
	slog.Debug("SessionStore session stored", "userID", s.UserID, "flowID", s.FlowID, "nodeID", s.CurrentNodeID)
}

// Delete removes the contact's session, if any.
func (ss *SessionStore) Delete(userID string) {
	ss.mu.Lock()
	delete(ss.sessions, userID)
	ss.mu.Unlock()
	slog.Debug("SessionStore session deleted", "userID", userID)
}

// Len reports the number of active sessions.
func (ss *SessionStore) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// UserIDs returns a snapshot of the contacts that currently hold a
// session. Session fields are not read here; callers that need them must
// take the contact's entry lock first.
func (ss *SessionStore) UserIDs() []string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	ids := make([]string, 0, len(ss.sessions))
	for userID := range ss.sessions {
		ids = append(ids, userID)
	}
	return ids
}
