package flow

import (
	"sort"
	"sync"
	"testing"
)

func TestSessionStorePutGetDelete(t *testing.T) {
	ss := NewSessionStore()
	sess := &Session{UserID: "u1", FlowID: "f1"}
	sess.Touch()
	ss.Put(sess)

	if got := ss.Get("u1"); got == nil || got.FlowID != "f1" {
		t.Fatalf("Expected stored session, got %+v", got)
	}
	if ss.Len() != 1 {
		t.Errorf("Expected 1 session, got %d", ss.Len())
	}

	ss.Delete("u1")
	if ss.Get("u1") != nil {
		t.Error("Expected session removed")
	}
	if ss.Len() != 0 {
		t.Errorf("Expected 0 sessions, got %d", ss.Len())
	}
}

func TestSessionVisitTracksHistoryAndCurrentNode(t *testing.T) {
	sess := &Session{UserID: "u1"}
	sess.Visit("n1")
	sess.Visit("n2")

	if sess.CurrentNodeID != "n2" {
		t.Errorf("Expected current node n2, got %q", sess.CurrentNodeID)
	}
	if len(sess.History) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(sess.History))
	}
	if sess.History[0].NodeID != "n1" || sess.History[1].NodeID != "n2" {
		t.Errorf("Expected ordered history, got %+v", sess.History)
	}
}

func TestUserIDsSnapshotsActiveContacts(t *testing.T) {
	ss := NewSessionStore()
	for _, userID := range []string{"u1", "u2"} {
		sess := &Session{UserID: userID}
		sess.Touch()
		ss.Put(sess)
	}

	ids := ss.UserIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 user IDs, got %v", ids)
	}
	sort.Strings(ids)
	if ids[0] != "u1" || ids[1] != "u2" {
		t.Errorf("Expected [u1 u2], got %v", ids)
	}

	ss.Delete("u1")
	if ids := ss.UserIDs(); len(ids) != 1 || ids[0] != "u2" {
		t.Errorf("Expected [u2] after delete, got %v", ids)
	}
}

func TestLockUserSerializesPerUser(t *testing.T) {
	ss := NewSessionStore()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := ss.LockUser("u1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected 50 serialized increments, got %d", counter)
	}
}
