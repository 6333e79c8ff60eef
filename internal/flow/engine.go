package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/trigger"
)

// Messenger is the outbound gateway the engine sends through. Sends are
// fire-and-forget: failures are logged by the engine, never retried.
type Messenger interface {
	SendText(ctx context.Context, to, instanceName, body string) error
	SendList(ctx context.Context, msg models.ListMessage) error
}

// ProductLookup resolves product references for product nodes.
type ProductLookup interface {
	GetProductByID(ctx context.Context, providerName, id string) (*models.Product, error)
}

// Engine is the conversation state machine. It consumes inbound messages,
// keeps one session per contact, and walks the flow graph node by node.
type Engine struct {
	store     store.Store
	messenger Messenger
	products  ProductLookup
	triggers  *trigger.Registry
	sessions  *SessionStore
}

// NewEngine wires the engine with its collaborators.
func NewEngine(st store.Store, m Messenger, p ProductLookup, reg *trigger.Registry, sessions *SessionStore) *Engine {
	slog.Debug("Creating flow engine")
	return &Engine{store: st, messenger: m, products: p, triggers: reg, sessions: sessions}
}

// Sessions exposes the session registry (for the API surface and tests).
func (e *Engine) Sessions() *SessionStore {
	return e.sessions
}

// HandleInboundMessage is the single entry point for received messages.
// It never returns an error to the channel adapter: every failure inside is
// logged and converted into a user-facing notice.
func (e *Engine) HandleInboundMessage(ctx context.Context, userID, text string) {
	unlock := e.sessions.LockUser(userID)
	defer unlock()

	slog.Debug("Engine handling inbound message", "userID", userID, "body_length", len(text))

	sess := e.sessions.Get(userID)
	if sess == nil {
		e.startConversation(ctx, userID, text)
		return
	}

	if sess.Clarifying {
		e.handleClarificationReply(ctx, sess, text)
		return
	}

	if e.isOutOfContext(sess, text) {
		slog.Info("Engine detected out-of-context reply", "userID", userID, "nodeID", sess.CurrentNodeID)
		e.beginClarification(ctx, sess)
		return
	}

	sess.Touch()
	e.processNodeResponse(ctx, sess, text)
}

// ExecuteFlow starts the given flow for a contact, replacing any session
// they already have. Used by the API surface to push a flow to a user.
func (e *Engine) ExecuteFlow(ctx context.Context, flowID, userID string) error {
	unlock := e.sessions.LockUser(userID)
	defer unlock()

	f, err := e.store.GetFlowByID(flowID)
	if err != nil {
		return fmt.Errorf("failed to fetch flow %s: %w", flowID, err)
	}
	if f == nil {
		return fmt.Errorf("flow %s not found", flowID)
	}
	if f.StartNode() == nil {
		return fmt.Errorf("flow %s has no start node", flowID)
	}

	e.sessions.Delete(userID)
	slog.Info("Engine executing flow on request", "userID", userID, "flowID", flowID)
	e.startFlow(ctx, flowID, userID, "")
	return nil
}

// startConversation resolves a flow for a contact with no session: trigger
// match first, then the most recently created active flow, then a static
// notice that nothing is configured.
func (e *Engine) startConversation(ctx context.Context, userID, text string) {
	if flowID, ok := e.triggers.Resolve(text); ok {
		slog.Info("Engine trigger matched", "userID", userID, "flowID", flowID)
		e.startFlow(ctx, flowID, userID, text)
		return
	}

	defaultFlow, err := e.store.MostRecentActiveFlow()
	if err != nil {
		slog.Error("Engine failed to look up default flow", "error", err, "userID", userID)
		e.sendText(ctx, userID, "", msgTechnicalProblem)
		return
	}
	if defaultFlow == nil {
		slog.Debug("Engine found no trigger and no active flow", "userID", userID)
		e.sendText(ctx, userID, "", msgNotUnderstood)
		return
	}
	slog.Info("Engine starting default flow for unmatched message", "userID", userID, "flowID", defaultFlow.ID, "flowName", defaultFlow.Name)
	e.startFlow(ctx, defaultFlow.ID, userID, text)
}

// startFlow creates a session at the flow's start node and processes it.
func (e *Engine) startFlow(ctx context.Context, flowID, userID, initialMessage string) {
	f, err := e.store.GetFlowByID(flowID)
	if err != nil {
		slog.Error("Engine failed to fetch flow", "error", err, "flowID", flowID, "userID", userID)
		e.sendText(ctx, userID, "", msgTechnicalProblem)
		return
	}
	if f == nil {
		slog.Error("Engine flow not found", "flowID", flowID, "userID", userID)
		e.sendText(ctx, userID, "", msgTechnicalProblem)
		return
	}
	start := f.StartNode()
	if start == nil {
		slog.Error("Engine flow has no start node", "flowID", flowID, "userID", userID)
		e.sendText(ctx, userID, f.InstanceName, msgStartNodeMissing)
		return
	}

	sess := &Session{
		UserID:       userID,
		FlowID:       f.ID,
		InstanceName: f.InstanceName,
		Context:      map[string]string{"initialMessage": initialMessage},
	}
	sess.Touch()
	sess.Visit(start.ID)
	e.sessions.Put(sess)
	slog.Info("Engine session started", "userID", userID, "flowID", f.ID, "startNodeID", start.ID)

	e.processNode(ctx, sess, start.ID)
}

// processNode executes one node and either advances, waits for input, or
// ends the session. The flow is re-fetched on every step so external edits
// take effect mid-conversation.
func (e *Engine) processNode(ctx context.Context, sess *Session, nodeID string) {
	f, err := e.store.GetFlowByID(sess.FlowID)
	if err != nil || f == nil {
		slog.Error("Engine could not reload flow during processing", "error", err, "flowID", sess.FlowID, "userID", sess.UserID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgTechnicalProblem)
		e.sessions.Delete(sess.UserID)
		return
	}
	node := f.NodeByID(nodeID)
	if node == nil {
		slog.Error("Engine node not found in flow", "nodeID", nodeID, "flowID", f.ID, "userID", sess.UserID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgNodeNotFound)
		e.sessions.Delete(sess.UserID)
		return
	}

	sess.Visit(nodeID)
	sess.AwaitingResponse = false
	sess.ExpectedResponses = nil
	sess.ActiveTriggers = nil

	slog.Debug("Engine processing node", "userID", sess.UserID, "nodeID", nodeID, "type", node.Type)

	switch node.Type {
	case models.NodeTypeStart:
		if node.Data.Label != "" && node.Data.Label != placeholderStartLabel {
			e.sendText(ctx, sess.UserID, sess.InstanceName, node.Data.Label)
		}
		if next := nextNodeID(f, nodeID, selector{}); next != "" {
			e.processNode(ctx, sess, next)
			return
		}
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgIncompleteFlow)
		e.sessions.Delete(sess.UserID)

	case models.NodeTypeMessage:
		body := node.Data.Label
		if body == "" {
			body = msgEmptyMessageBody
		}
		e.sendText(ctx, sess.UserID, sess.InstanceName, body)

		if node.Data.AwaitsResponse {
			e.awaitReply(sess, node.Data.Triggers, expectedFromTriggers(node.Data.Triggers))
			return
		}
		e.advanceOrClose(ctx, sess, f, nodeID)

	case models.NodeTypeList:
		if len(node.Data.Options) == 0 {
			e.sendText(ctx, sess.UserID, sess.InstanceName, msgEmptyList)
			if next := nextNodeID(f, nodeID, selector{}); next != "" {
				e.processNode(ctx, sess, next)
				return
			}
			e.sessions.Delete(sess.UserID)
			return
		}

		prompt := node.Data.Label
		if prompt == "" {
			prompt = listDefaultPrompt
		}
		rows := make([]models.ListRow, 0, len(node.Data.Options))
		expected := make([]string, 0, 2*len(node.Data.Options))
		for _, opt := range node.Data.Options {
			rows = append(rows, models.ListRow{RowID: opt.ID, Title: opt.Text, Description: opt.Description})
			expected = append(expected, opt.ID)
		}
		for _, opt := range node.Data.Options {
			expected = append(expected, opt.Text)
		}

		msg := models.ListMessage{
			To:           sess.UserID,
			InstanceName: sess.InstanceName,
			Title:        listTitle,
			Description:  prompt,
			ButtonText:   listButtonText,
			FooterText:   listFooterText,
			Sections:     []models.ListSection{{Title: listSectionTitle, Rows: rows}},
		}
		e.awaitReply(sess, node.Data.Triggers, expected)
		if err := e.messenger.SendList(ctx, msg); err != nil {
			slog.Error("Engine failed to send list message", "error", err, "userID", sess.UserID, "nodeID", nodeID)
		}

	case models.NodeTypeConditional:
		question := node.Data.Label
		if question == "" {
			question = conditionalDefaultPrompt
		}
		e.sendText(ctx, sess.UserID, sess.InstanceName, question)
		e.awaitReply(sess, node.Data.Triggers, expectedFromTriggers(node.Data.Triggers))

	case models.NodeTypeProduct:
		e.processProductNode(ctx, sess, f, node)

	case models.NodeTypeEnd:
		if node.Data.Label != "" && node.Data.Label != placeholderEndLabel {
			e.sendText(ctx, sess.UserID, sess.InstanceName, node.Data.Label)
		}
		slog.Info("Engine session reached end node", "userID", sess.UserID, "flowID", f.ID, "nodeID", nodeID)
		e.sessions.Delete(sess.UserID)

	default:
		e.sendText(ctx, sess.UserID, sess.InstanceName, fmt.Sprintf(msgUnsupportedNodeType, node.Type))
		if next := nextNodeID(f, nodeID, selector{}); next != "" {
			e.processNode(ctx, sess, next)
			return
		}
		e.sessions.Delete(sess.UserID)
	}
}

// awaitReply suspends the session until the contact's next message.
// Expected responses exclude unconditional triggers: an "any" trigger means
// every further input is acceptable.
func (e *Engine) awaitReply(sess *Session, triggers []models.NodeTrigger, expected []string) {
	sess.AwaitingResponse = true
	sess.ActiveTriggers = triggers
	sess.ExpectedResponses = expected
}

// expectedFromTriggers collects the values a node's triggers can match,
// skipping unconditional ones.
func expectedFromTriggers(triggers []models.NodeTrigger) []string {
	var expected []string
	for _, t := range triggers {
		if t.Type == models.NodeTriggerAny {
			continue
		}
		expected = append(expected, t.Value)
	}
	return expected
}

// advanceOrClose moves to the unconditioned next node, or ends the
// conversation when the node is a dead end.
func (e *Engine) advanceOrClose(ctx context.Context, sess *Session, f *models.Flow, nodeID string) {
	if next := nextNodeID(f, nodeID, selector{}); next != "" {
		e.processNode(ctx, sess, next)
		return
	}
	e.sendText(ctx, sess.UserID, sess.InstanceName, msgEndOfConversation)
	e.sessions.Delete(sess.UserID)
}

// processNodeResponse evaluates the contact's reply against the current
// node's triggers and options, then advances through the navigator.
func (e *Engine) processNodeResponse(ctx context.Context, sess *Session, text string) {
	f, err := e.store.GetFlowByID(sess.FlowID)
	if err != nil || f == nil {
		slog.Error("Engine could not reload flow for response", "error", err, "flowID", sess.FlowID, "userID", sess.UserID)
		e.sessions.Delete(sess.UserID)
		return
	}
	node := f.NodeByID(sess.CurrentNodeID)
	if node == nil {
		slog.Error("Engine current node vanished from flow", "nodeID", sess.CurrentNodeID, "flowID", f.ID, "userID", sess.UserID)
		e.sessions.Delete(sess.UserID)
		return
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	var sel selector

	if matched := matchNodeTrigger(node.Data.Triggers, lower); matched != nil {
		slog.Debug("Engine node trigger matched", "userID", sess.UserID, "nodeID", node.ID, "type", matched.Type, "value", matched.Value)
		if matched.Reply != "" {
			e.sendText(ctx, sess.UserID, sess.InstanceName, matched.Reply)
		}
		sel.TriggerNextID = matched.NextNodeID
		sel.Handle = matched.Value
	}

	if opt := matchListOption(node.Data.Options, lower); opt != nil {
		slog.Debug("Engine list option selected", "userID", sess.UserID, "nodeID", node.ID, "optionID", opt.ID)
		sel.OptionNextID = opt.NextNodeID
		if sel.Handle == "" {
			sel.Handle = opt.ID
		}
	}

	next := nextNodeID(f, node.ID, sel)
	if next == "" {
		slog.Info("Engine reached dead end", "userID", sess.UserID, "flowID", f.ID, "nodeID", node.ID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgEndOfConversation)
		e.sessions.Delete(sess.UserID)
		return
	}
	e.processNode(ctx, sess, next)
}

// matchNodeTrigger returns the first trigger satisfied by the lowercased,
// trimmed reply, in declaration order. Malformed regex triggers are logged
// and skipped.
func matchNodeTrigger(triggers []models.NodeTrigger, lower string) *models.NodeTrigger {
	for i := range triggers {
		t := &triggers[i]
		switch t.Type {
		case models.NodeTriggerAny:
			return t
		case models.NodeTriggerText:
			if t.Value != "" && lower == strings.ToLower(t.Value) {
				return t
			}
		case models.NodeTriggerRegex:
			if t.Value == "" {
				continue
			}
			re, err := regexp.Compile("(?i)" + t.Value)
			if err != nil {
				slog.Warn("Engine skipping malformed trigger pattern", "pattern", t.Value, "error", err)
				continue
			}
			if re.MatchString(lower) {
				return t
			}
		}
	}
	return nil
}

// matchListOption matches the reply against an option's ID or text.
// List replies may append the option description after a newline, so the
// first line participates too.
func matchListOption(options []models.ListOption, lower string) *models.ListOption {
	if len(options) == 0 {
		return nil
	}
	firstLine := strings.TrimSpace(strings.SplitN(lower, "\n", 2)[0])
	for i := range options {
		opt := &options[i]
		id := strings.ToLower(opt.ID)
		text := strings.ToLower(opt.Text)
		if lower == id || firstLine == id || lower == text || firstLine == text {
			return opt
		}
	}
	return nil
}

// isOutOfContext reports whether the reply matches none of the session's
// expected responses. An empty expected set means no constraint.
func (e *Engine) isOutOfContext(sess *Session, text string) bool {
	if len(sess.ExpectedResponses) == 0 {
		return false
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	firstLine := strings.TrimSpace(strings.SplitN(lower, "\n", 2)[0])

	for _, expected := range sess.ExpectedResponses {
		lowerExpected := strings.ToLower(expected)
		if lower == lowerExpected || firstLine == lowerExpected {
			return false
		}
		// List replies may carry "text\ndescription"; a prefix match covers them.
		if strings.HasPrefix(lower, lowerExpected) {
			return false
		}
		re, err := regexp.Compile("(?i)" + expected)
		if err != nil {
			continue
		}
		if re.MatchString(lower) || re.MatchString(firstLine) {
			return false
		}
	}
	return true
}

// beginClarification opens the out-of-context dialog, remembering the node
// to restore should the contact choose to continue.
func (e *Engine) beginClarification(ctx context.Context, sess *Session) {
	e.sendText(ctx, sess.UserID, sess.InstanceName, msgOutOfContext)
	sess.Clarifying = true
	sess.PreviousNodeID = sess.CurrentNodeID
	sess.ExpectedResponses = append([]string(nil), clarificationExpected...)
	sess.Touch()
}

// handleClarificationReply interprets the yes/no answer of the
// out-of-context dialog. Yes ends the conversation; anything else restores
// the interrupted node and re-processes it.
func (e *Engine) handleClarificationReply(ctx context.Context, sess *Session, text string) {
	lower := strings.ToLower(strings.TrimSpace(text))

	if affirmativeReplies[lower] {
		slog.Info("Engine contact chose to end conversation", "userID", sess.UserID, "flowID", sess.FlowID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgConversationEnded)
		e.sessions.Delete(sess.UserID)
		return
	}

	previous := sess.PreviousNodeID
	sess.Clarifying = false
	sess.PreviousNodeID = ""
	sess.CurrentNodeID = previous
	sess.Touch()
	slog.Info("Engine resuming after clarification", "userID", sess.UserID, "nodeID", previous)
	e.sendText(ctx, sess.UserID, sess.InstanceName, msgResume)
	e.processNode(ctx, sess, previous)
}

// processProductNode resolves and presents a product. Lookup failures are
// non-fatal: the contact gets an apology and the conversation advances.
func (e *Engine) processProductNode(ctx context.Context, sess *Session, f *models.Flow, node *models.Node) {
	data := node.Data

	if data.ProductID == "" {
		slog.Warn("Engine product node has no product reference", "nodeID", node.ID, "flowID", f.ID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgProductNotConfigured)
		if next := nextNodeID(f, node.ID, selector{}); next != "" {
			e.processNode(ctx, sess, next)
		}
		return
	}

	product, err := e.products.GetProductByID(ctx, data.ProviderName, data.ProductID)
	if err != nil {
		slog.Error("Engine product lookup failed", "error", err, "productID", data.ProductID, "provider", data.ProviderName, "userID", sess.UserID)
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgProductLookupFailed)
		if next := nextNodeID(f, node.ID, selector{}); next != "" {
			e.processNode(ctx, sess, next)
		}
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", product.Name)
	if showToggle(data.ShowDescription) && product.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", product.Description)
	}
	if showToggle(data.ShowPrice) && product.Price > 0 {
		fmt.Fprintf(&b, msgProductPriceFormat, product.Price)
	}
	if data.CustomText != "" {
		fmt.Fprintf(&b, "%s\n\n", data.CustomText)
	}
	e.sendText(ctx, sess.UserID, sess.InstanceName, b.String())

	if showToggle(data.ShowImage) && product.ImageURL != "" {
		e.sendText(ctx, sess.UserID, sess.InstanceName, product.ImageURL)
	}

	if data.AddToCartButton {
		e.sendText(ctx, sess.UserID, sess.InstanceName, msgAddToCart)
		e.awaitReply(sess, data.Triggers, append([]string(nil), cartExpectedReplies...))
		return
	}

	e.advanceOrClose(ctx, sess, f, node.ID)
}

// showToggle interprets a tri-state display flag: absent means enabled.
func showToggle(p *bool) bool {
	return p == nil || *p
}

// SweepExpiredSessions removes sessions idle past SessionTimeout and sends
// each affected contact an expiry notice exactly once. Candidates are
// re-checked under the contact's entry lock, so a message that is being
// handled concurrently keeps its session alive.
func (e *Engine) SweepExpiredSessions(ctx context.Context) {
	for _, userID := range e.sessions.UserIDs() {
		e.expireIfIdle(ctx, userID)
	}
}

func (e *Engine) expireIfIdle(ctx context.Context, userID string) {
	unlock := e.sessions.LockUser(userID)
	defer unlock()

	sess := e.sessions.Get(userID)
	if sess == nil || time.Since(sess.LastInteraction) <= SessionTimeout {
		return
	}
	e.sessions.Delete(userID)
	slog.Info("Engine expiring idle session", "userID", sess.UserID, "flowID", sess.FlowID)
	e.sendText(ctx, sess.UserID, sess.InstanceName, msgSessionExpired)
}

// sendText delivers a text message, absorbing failures. A failed send is
// not retried.
func (e *Engine) sendText(ctx context.Context, to, instanceName, body string) {
	if err := e.messenger.SendText(ctx, to, instanceName, body); err != nil {
		slog.Error("Engine failed to send message", "error", err, "to", to)
	}
}
