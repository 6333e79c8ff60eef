package flow

import (
	"strings"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
)

// selector carries the discriminating values available when leaving a node.
// The zero selector means "take the first outgoing edge".
type selector struct {
	// TriggerNextID is the satisfied node-trigger's explicit target.
	TriggerNextID string
	// OptionNextID is the chosen list option's explicit target.
	OptionNextID string
	// Handle matches an outgoing edge's source handle: a list option ID or
	// a conditional branch handle such as "yes"/"no".
	Handle string
}

// nextNodeID resolves the node that follows fromNodeID. Resolution is
// layered, first match wins:
//
//  1. the satisfied trigger's explicit next-node ID
//  2. the chosen list option's explicit next-node ID
//  3. an outgoing edge whose source handle equals the selector handle
//  4. the first outgoing edge in declaration order
//
// An empty result means dead end; the caller decides whether that is flow
// termination or an error. The layering lets linear flows skip handle
// wiring entirely while branching nodes can still route precisely.
func nextNodeID(f *models.Flow, fromNodeID string, sel selector) string {
	if sel.TriggerNextID != "" {
		return sel.TriggerNextID
	}
	if sel.OptionNextID != "" {
		return sel.OptionNextID
	}
	if sel.Handle != "" {
		for _, e := range f.Edges {
			if e.Source == fromNodeID && e.SourceHandle != "" && strings.EqualFold(e.SourceHandle, sel.Handle) {
				return e.Target
			}
		}
	}
	for _, e := range f.Edges {
		if e.Source == fromNodeID {
			return e.Target
		}
	}
	return ""
}
