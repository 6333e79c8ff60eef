// Package models defines the core data structures for the Imperial Mídia
// WhatsApp flow backend.
//
// It includes the flow graph types (flows, nodes, edges, triggers), inbound
// message events, and the API response envelope shared across modules.
package models

import (
	"errors"
	"regexp"
	"time"
)

// NodeType identifies the behavior of a flow node.
type NodeType string

const (
	// NodeTypeStart marks the entry point of a flow.
	NodeTypeStart NodeType = "start"
	// NodeTypeMessage sends a text message, optionally awaiting a reply.
	NodeTypeMessage NodeType = "message"
	// NodeTypeList sends an interactive list of options and awaits a selection.
	NodeTypeList NodeType = "list"
	// NodeTypeConditional asks a question and routes on the reply.
	NodeTypeConditional NodeType = "conditional"
	// NodeTypeProduct presents a product fetched from a provider.
	NodeTypeProduct NodeType = "product"
	// NodeTypeEnd terminates the conversation.
	NodeTypeEnd NodeType = "end"
)

// IsValidNodeType checks if the given node type is supported.
func IsValidNodeType(nt NodeType) bool {
	switch nt {
	case NodeTypeStart, NodeTypeMessage, NodeTypeList, NodeTypeConditional, NodeTypeProduct, NodeTypeEnd:
		return true
	default:
		return false
	}
}

// NodeTriggerType identifies how a node trigger matches a user reply.
// The wire values are Portuguese for compatibility with the flow builder UI.
type NodeTriggerType string

const (
	// NodeTriggerText matches on exact (case-insensitive) text equality.
	NodeTriggerText NodeTriggerType = "texto"
	// NodeTriggerRegex matches when the reply satisfies a regular expression.
	NodeTriggerRegex NodeTriggerType = "regex"
	// NodeTriggerAny matches any reply unconditionally.
	NodeTriggerAny NodeTriggerType = "qualquer"
)

// NodeTrigger is a node-local condition routing a user reply to a next node.
type NodeTrigger struct {
	Type       NodeTriggerType `json:"tipo"`
	Value      string          `json:"valor,omitempty"`
	Reply      string          `json:"resposta,omitempty"`    // optional auto-reply sent when the trigger fires
	NextNodeID string          `json:"proximoNoId,omitempty"` // optional explicit routing target
}

// ListOption is one selectable row of a list node.
type ListOption struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Description string `json:"description,omitempty"`
	NextNodeID  string `json:"proximoNoId,omitempty"`
}

// Position holds the node's placement on the flow builder canvas. It has no
// effect on execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the type-specific payload of a node. Fields beyond the
// common ones apply only to certain node types: Options to list nodes, the
// product fields to product nodes.
type NodeData struct {
	Label          string        `json:"label,omitempty"`
	AwaitsResponse bool          `json:"aguardaResposta,omitempty"`
	TimeoutSeconds int           `json:"tempoLimite,omitempty"`
	Triggers       []NodeTrigger `json:"gatilhos,omitempty"`

	// List node payload.
	Options []ListOption `json:"options,omitempty"`

	// Product node payload. The Show* toggles default to true when absent,
	// hence pointers.
	ProductID       string `json:"productId,omitempty"`
	ProviderName    string `json:"providerName,omitempty"`
	ShowPrice       *bool  `json:"showPrice,omitempty"`
	ShowDescription *bool  `json:"showDescription,omitempty"`
	ShowImage       *bool  `json:"showImage,omitempty"`
	AddToCartButton bool   `json:"addToCartButton,omitempty"`
	CustomText      string `json:"customText,omitempty"`
}

// Node is one step of a flow graph.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Edge is a directed connection between two nodes. SourceHandle
// disambiguates multiple outgoing edges of branching nodes (one handle per
// list option or per conditional branch).
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Flow is a persisted directed graph of conversation nodes and edges.
type Flow struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Active       bool      `json:"active"`
	InstanceName string    `json:"instanceName,omitempty"`
	Nodes        []Node    `json:"nodes"`
	Edges        []Edge    `json:"edges"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// NodeByID returns the node with the given ID, or nil if the flow has none.
func (f *Flow) NodeByID(id string) *Node {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// StartNode returns the first node of type start, or nil.
func (f *Flow) StartNode() *Node {
	for i := range f.Nodes {
		if f.Nodes[i].Type == NodeTypeStart {
			return &f.Nodes[i]
		}
	}
	return nil
}

// TriggerType identifies how a flow-level trigger matches an inbound message.
type TriggerType string

const (
	// TriggerTypeText matches on exact lowercase equality. The special value
	// "*" is treated as a wildcard matching any message.
	TriggerTypeText TriggerType = "text"
	// TriggerTypeRegex matches on a case-insensitive regular expression.
	TriggerTypeRegex TriggerType = "regex"
)

// WildcardTriggerValue is the text trigger value that starts a flow on any
// inbound message, with lower priority than every specific trigger.
const WildcardTriggerValue = "*"

// Trigger associates an inbound message pattern with the flow it starts.
type Trigger struct {
	ID     string      `json:"id"`
	FlowID string      `json:"flowId"`
	Type   TriggerType `json:"type"`
	Value  string      `json:"value"`
}

// Validation constants.
const (
	// MaxFlowNameLength defines the maximum allowed length for flow names.
	MaxFlowNameLength = 200
	// MaxNodeLabelLength defines the maximum allowed length for node labels.
	MaxNodeLabelLength = 4096
)

// Error variables for better error handling and testability.
var (
	ErrEmptyFlowName       = errors.New("flow name cannot be empty")
	ErrFlowNameTooLong     = errors.New("flow name exceeds maximum length")
	ErrInvalidNodeType     = errors.New("invalid node type")
	ErrNodeLabelTooLong    = errors.New("node label exceeds maximum length")
	ErrDuplicateNodeID     = errors.New("duplicate node ID in flow")
	ErrEdgeUnknownNode     = errors.New("edge references unknown node ID")
	ErrEmptyTriggerValue   = errors.New("trigger value cannot be empty")
	ErrInvalidTriggerType  = errors.New("invalid trigger type")
	ErrInvalidTriggerRegex = errors.New("trigger regex does not compile")
)

// Validate performs create/update-time validation on a flow definition.
// It checks structural basics only; graph well-formedness (reachability,
// single start node, dead ends) is not enforced here.
func (f *Flow) Validate() error {
	if f.Name == "" {
		return ErrEmptyFlowName
	}
	if len(f.Name) > MaxFlowNameLength {
		return ErrFlowNameTooLong
	}
	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if !IsValidNodeType(n.Type) {
			return ErrInvalidNodeType
		}
		if len(n.Data.Label) > MaxNodeLabelLength {
			return ErrNodeLabelTooLong
		}
		if seen[n.ID] {
			return ErrDuplicateNodeID
		}
		seen[n.ID] = true
	}
	for _, e := range f.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			return ErrEdgeUnknownNode
		}
	}
	return nil
}

// Validate checks a flow-level trigger definition. Regex triggers must
// compile; rejecting them here keeps broken patterns out of the registry.
func (t *Trigger) Validate() error {
	if t.Value == "" {
		return ErrEmptyTriggerValue
	}
	switch t.Type {
	case TriggerTypeText:
		return nil
	case TriggerTypeRegex:
		if _, err := regexp.Compile("(?i)" + t.Value); err != nil {
			return ErrInvalidTriggerRegex
		}
		return nil
	default:
		return ErrInvalidTriggerType
	}
}

// Response represents an incoming message from a WhatsApp contact.
type Response struct {
	From         string `json:"from"`
	Body         string `json:"body"`
	InstanceName string `json:"instanceName,omitempty"`
	Time         int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Receipt records a delivery status change for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope of the HTTP surface.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success builds an ok response carrying a result payload.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage builds an ok response with an explanatory message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error builds an error response with a human-readable message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
