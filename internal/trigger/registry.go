// Package trigger resolves inbound messages to the flows they should start.
//
// It maintains a process-wide ordered rule list loaded from storage at
// start-up and mutable afterward. Matching is first-match-wins in
// registration order, with wildcard rules always evaluated last.
package trigger

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
)

// Kind identifies how a rule matches an inbound message.
type Kind string

const (
	// KindText matches on exact lowercase equality.
	KindText Kind = "text"
	// KindRegex matches on a case-insensitive regular expression.
	KindRegex Kind = "regex"
	// KindWildcard matches any non-empty message, with lowest priority.
	KindWildcard Kind = "wildcard"
)

// Rule associates a matcher with the flow it starts.
type Rule struct {
	Kind   Kind
	Value  string
	FlowID string

	re *regexp.Regexp
}

// Registry holds the ordered rule list. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry creates an empty trigger registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add appends a rule. Regex values are compiled case-insensitively at
// registration time; an invalid pattern is rejected here rather than
// failing silently per message. The text value "*" registers a wildcard.
func (r *Registry) Add(kind Kind, value, flowID string) error {
	rule := Rule{Kind: kind, Value: value, FlowID: flowID}
	switch kind {
	case KindText:
		if value == models.WildcardTriggerValue {
			rule.Kind = KindWildcard
		} else {
			rule.Value = strings.ToLower(value)
		}
	case KindRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			slog.Error("Trigger registry rejected invalid regex", "pattern", value, "flowID", flowID, "error", err)
			return fmt.Errorf("invalid trigger pattern %q: %w", value, err)
		}
		rule.re = re
	case KindWildcard:
		// nothing to compile
	default:
		return fmt.Errorf("unknown trigger kind %q", kind)
	}

	r.mu.Lock()
	r.rules = append(r.rules, rule)
	r.mu.Unlock()
	slog.Debug("Trigger registry rule added", "kind", rule.Kind, "value", value, "flowID", flowID)
	return nil
}

// Remove deletes every rule registered for the given flow.
func (r *Registry) Remove(flowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rules[:0]
	for _, rule := range r.rules {
		if rule.FlowID != flowID {
			kept = append(kept, rule)
		}
	}
	removed := len(r.rules) - len(kept)
	r.rules = kept
	slog.Debug("Trigger registry rules removed", "flowID", flowID, "removed", removed)
}

// Resolve returns the flow ID the message should start, if any. Specific
// rules are tested first in registration order; wildcard rules only when no
// specific rule matched, also in registration order.
func (r *Registry) Resolve(message string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		switch rule.Kind {
		case KindText:
			if lower == rule.Value {
				return rule.FlowID, true
			}
		case KindRegex:
			if rule.re.MatchString(lower) {
				return rule.FlowID, true
			}
		}
	}
	if lower == "" {
		return "", false
	}
	for _, rule := range r.rules {
		if rule.Kind == KindWildcard {
			return rule.FlowID, true
		}
	}
	return "", false
}

// Len reports the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Rules returns a snapshot of the registered rules.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// LoadFromStore replaces the rule list with the triggers of all active
// flows. Triggers with invalid regex patterns are logged and skipped so one
// broken record cannot block start-up.
func (r *Registry) LoadFromStore(st store.Store) error {
	triggers, err := st.ListActiveTriggers()
	if err != nil {
		slog.Error("Trigger registry failed to load triggers", "error", err)
		return fmt.Errorf("failed to load triggers: %w", err)
	}

	r.mu.Lock()
	r.rules = nil
	r.mu.Unlock()

	loaded := 0
	for _, t := range triggers {
		kind := KindText
		if t.Type == models.TriggerTypeRegex {
			kind = KindRegex
		}
		if err := r.Add(kind, t.Value, t.FlowID); err != nil {
			slog.Warn("Trigger registry skipped trigger", "triggerID", t.ID, "flowID", t.FlowID, "error", err)
			continue
		}
		loaded++
	}
	slog.Info("Trigger registry loaded", "total", len(triggers), "loaded", loaded)
	return nil
}
