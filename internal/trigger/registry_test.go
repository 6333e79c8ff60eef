package trigger

import (
	"testing"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
)

func TestAddAndResolveTextTrigger(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(KindText, "Oi", "f1"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	flowID, ok := r.Resolve("oi")
	if !ok || flowID != "f1" {
		t.Errorf("Expected f1 for lowercase match, got %q ok=%v", flowID, ok)
	}
	flowID, ok = r.Resolve("  OI  ")
	if !ok || flowID != "f1" {
		t.Errorf("Expected trim and case fold, got %q ok=%v", flowID, ok)
	}
	if _, ok := r.Resolve("oi tudo bem"); ok {
		t.Error("Text trigger must match the whole message only")
	}
}

func TestRegexTriggerCompiledAtRegistration(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(KindRegex, "^(hi|hello)$", "f1"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if flowID, ok := r.Resolve("HI"); !ok || flowID != "f1" {
		t.Errorf("Expected case-insensitive regex match, got %q ok=%v", flowID, ok)
	}
	if _, ok := r.Resolve("hi there"); ok {
		t.Error("Anchored pattern must not match a longer message")
	}
}

func TestInvalidRegexRejectedAtAddTime(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(KindRegex, "([unclosed", "f1"); err == nil {
		t.Fatal("Expected error for invalid regex")
	}
	if r.Len() != 0 {
		t.Errorf("Expected no rule registered, got %d", r.Len())
	}
}

func TestWildcardMatchesLastAndNeverEmpty(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(KindText, "*", "fallback"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(KindText, "oi", "specific"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The wildcard was registered first but specific rules still win.
	if flowID, _ := r.Resolve("oi"); flowID != "specific" {
		t.Errorf("Expected specific rule to beat wildcard, got %q", flowID)
	}
	if flowID, _ := r.Resolve("anything else"); flowID != "fallback" {
		t.Errorf("Expected wildcard fallback, got %q", flowID)
	}
	if _, ok := r.Resolve("   "); ok {
		t.Error("Wildcard must not match an empty message")
	}
}

func TestFirstMatchWinsInRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(KindText, "promo", "first"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(KindRegex, "^promo$", "second"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if flowID, _ := r.Resolve("promo"); flowID != "first" {
		t.Errorf("Expected the earlier rule, got %q", flowID)
	}
}

func TestRemoveDropsAllRulesOfFlow(t *testing.T) {
	r := NewRegistry()
	_ = r.Add(KindText, "um", "f1")
	_ = r.Add(KindText, "dois", "f1")
	_ = r.Add(KindText, "tres", "f2")

	r.Remove("f1")

	if r.Len() != 1 {
		t.Fatalf("Expected 1 remaining rule, got %d", r.Len())
	}
	if _, ok := r.Resolve("um"); ok {
		t.Error("Expected f1 rules gone")
	}
	if flowID, ok := r.Resolve("tres"); !ok || flowID != "f2" {
		t.Errorf("Expected f2 rule kept, got %q ok=%v", flowID, ok)
	}
}

func TestLoadFromStoreSkipsInvalidAndInactive(t *testing.T) {
	st := store.NewInMemoryStore()
	active, err := st.CreateFlow(models.Flow{Name: "active", Active: true, Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeStart}}})
	if err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	inactive, err := st.CreateFlow(models.Flow{Name: "inactive", Nodes: []models.Node{{ID: "n1", Type: models.NodeTypeStart}}})
	if err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	if _, err := st.UpdateFlow(inactive.ID, models.Flow{Active: false}); err != nil {
		t.Fatalf("UpdateFlow failed: %v", err)
	}
	if _, err := st.CreateTrigger(models.Trigger{FlowID: active.ID, Type: models.TriggerTypeText, Value: "oi"}); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	if _, err := st.CreateTrigger(models.Trigger{FlowID: active.ID, Type: models.TriggerTypeRegex, Value: "([bad"}); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}
	if _, err := st.CreateTrigger(models.Trigger{FlowID: inactive.ID, Type: models.TriggerTypeText, Value: "tchau"}); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}

	r := NewRegistry()
	if err := r.LoadFromStore(st); err != nil {
		t.Fatalf("LoadFromStore failed: %v", err)
	}

	if r.Len() != 1 {
		t.Fatalf("Expected only the valid active trigger loaded, got %d", r.Len())
	}
	if flowID, ok := r.Resolve("oi"); !ok || flowID != active.ID {
		t.Errorf("Expected active flow trigger, got %q ok=%v", flowID, ok)
	}
	if _, ok := r.Resolve("tchau"); ok {
		t.Error("Expected inactive flow trigger excluded")
	}
}

func TestLoadFromStoreReplacesExistingRules(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewRegistry()
	_ = r.Add(KindText, "velho", "gone")

	if err := r.LoadFromStore(st); err != nil {
		t.Fatalf("LoadFromStore failed: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Expected reload to clear stale rules, got %d", r.Len())
	}
}
