package flow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/trigger"
)

// newTestEngine wires an engine around an in-memory store and fakes, and
// registers a text trigger "oi" for the given flow.
func newTestEngine(t *testing.T, f models.Flow) (*Engine, *fakeMessenger, *models.Flow) {
	t.Helper()
	st := store.NewInMemoryStore()
	created, err := st.CreateFlow(f)
	if err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	reg := trigger.NewRegistry()
	if err := reg.Add(trigger.KindText, "oi", created.ID); err != nil {
		t.Fatalf("trigger Add failed: %v", err)
	}
	msgr := newFakeMessenger()
	eng := NewEngine(st, msgr, newFakeProducts(), reg, NewSessionStore())
	return eng, msgr, created
}

func linearFlow() models.Flow {
	return models.Flow{
		Name:   "welcome",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart, Data: models.NodeData{Label: "Início do Fluxo"}},
			{ID: "n2", Type: models.NodeTypeMessage, Data: models.NodeData{Label: "Bem-vindo!"}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Até logo!"}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}
}

func TestLinearFlowWalksToEndInOneTurn(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, linearFlow())

	eng.HandleInboundMessage(context.Background(), "5511999990000", "oi")

	texts := msgr.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("Expected 2 messages (welcome, farewell), got %d: %v", len(texts), texts)
	}
	if texts[0].Body != "Bem-vindo!" {
		t.Errorf("Expected welcome message first, got %q", texts[0].Body)
	}
	if texts[1].Body != "Até logo!" {
		t.Errorf("Expected end label second, got %q", texts[1].Body)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected session removed after end node, got %d sessions", eng.Sessions().Len())
	}
}

func TestStartAndEndPlaceholderLabelsAreSilent(t *testing.T) {
	f := linearFlow()
	f.Nodes[2].Data.Label = "Fim do fluxo"
	eng, msgr, _ := newTestEngine(t, f)

	eng.HandleInboundMessage(context.Background(), "5511999990000", "oi")

	texts := msgr.sentTexts()
	if len(texts) != 1 {
		t.Fatalf("Expected only the welcome message, got %d: %v", len(texts), texts)
	}
}

func awaitingFlow() models.Flow {
	return models.Flow{
		Name:   "confirm",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeMessage, Data: models.NodeData{
				Label:          "Deseja continuar?",
				AwaitsResponse: true,
				Triggers: []models.NodeTrigger{
					{Type: models.NodeTriggerText, Value: "sim", Reply: "Perfeito!", NextNodeID: "n3"},
					{Type: models.NodeTriggerText, Value: "não", NextNodeID: "n4"},
				},
			}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Continuando."}},
			{ID: "n4", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Tudo bem."}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
		},
	}
}

func TestMessageNodeAwaitsAndRoutesByTrigger(t *testing.T) {
	eng, msgr, created := newTestEngine(t, awaitingFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	if eng.Sessions().Len() != 1 {
		t.Fatalf("Expected a suspended session, got %d", eng.Sessions().Len())
	}
	sess := eng.Sessions().Get(user)
	if !sess.AwaitingResponse {
		t.Error("Expected session to be awaiting a response")
	}
	if sess.FlowID != created.ID {
		t.Errorf("Expected session bound to flow %s, got %s", created.ID, sess.FlowID)
	}

	eng.HandleInboundMessage(context.Background(), user, "SIM")

	texts := msgr.sentTexts()
	var bodies []string
	for _, tx := range texts {
		bodies = append(bodies, tx.Body)
	}
	joined := strings.Join(bodies, "|")
	if !strings.Contains(joined, "Perfeito!") {
		t.Errorf("Expected trigger auto-reply before advancing, got %v", bodies)
	}
	if !strings.Contains(joined, "Continuando.") {
		t.Errorf("Expected the sim branch end label, got %v", bodies)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected session closed at end node, got %d", eng.Sessions().Len())
	}
}

func listFlow() models.Flow {
	return models.Flow{
		Name:   "colors",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeList, Data: models.NodeData{
				Label: "Escolha uma cor:",
				Options: []models.ListOption{
					{ID: "opt-red", Text: "Vermelho", NextNodeID: "n3"},
					{ID: "opt-blue", Text: "Azul", NextNodeID: "n4"},
				},
			}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Vermelho escolhido."}},
			{ID: "n4", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Azul escolhido."}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
		},
	}
}

func TestListNodeSendsListAndRoutesByOptionID(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")

	lists := msgr.sentLists()
	if len(lists) != 1 {
		t.Fatalf("Expected one list message, got %d", len(lists))
	}
	if len(lists[0].Sections) != 1 || len(lists[0].Sections[0].Rows) != 2 {
		t.Fatalf("Expected one section with two rows, got %+v", lists[0].Sections)
	}

	eng.HandleInboundMessage(context.Background(), user, "opt-red")
	if got := msgr.lastText(); got != "Vermelho escolhido." {
		t.Errorf("Expected red branch, got %q", got)
	}
}

func TestListNodeRoutesByOptionText(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "azul")

	if got := msgr.lastText(); got != "Azul escolhido." {
		t.Errorf("Expected blue branch on text match, got %q", got)
	}
}

func TestListReplyWithDescriptionLineStillMatches(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "Vermelho\numa cor quente")

	if got := msgr.lastText(); got != "Vermelho escolhido." {
		t.Errorf("Expected first-line match to route, got %q", got)
	}
}

func TestOutOfContextReplyOpensClarification(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "Verde")

	if got := msgr.lastText(); got != msgOutOfContext {
		t.Fatalf("Expected clarification question, got %q", got)
	}
	sess := eng.Sessions().Get(user)
	if sess == nil || !sess.Clarifying {
		t.Fatal("Expected session in clarification state")
	}
	if sess.PreviousNodeID != "" && sess.PreviousNodeID == sess.CurrentNodeID {
		// PreviousNodeID holds the interrupted node for the resume path.
		t.Log("clarification recorded interrupted node", sess.PreviousNodeID)
	}
}

func TestClarificationYesEndsConversation(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "Verde")
	eng.HandleInboundMessage(context.Background(), user, "sim")

	if got := msgr.lastText(); got != msgConversationEnded {
		t.Errorf("Expected farewell, got %q", got)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected session removed, got %d", eng.Sessions().Len())
	}
}

func TestClarificationNoResumesInterruptedNode(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "Verde")
	eng.HandleInboundMessage(context.Background(), user, "não")

	var sawResume bool
	for _, tx := range msgr.sentTexts() {
		if tx.Body == msgResume {
			sawResume = true
		}
	}
	if !sawResume {
		t.Error("Expected resume notice after declining to end")
	}
	if lists := msgr.sentLists(); len(lists) != 2 {
		t.Errorf("Expected the list to be re-sent on resume, got %d list sends", len(lists))
	}
	sess := eng.Sessions().Get(user)
	if sess == nil {
		t.Fatal("Expected session to survive the clarification")
	}
	if sess.Clarifying {
		t.Error("Expected clarification state cleared")
	}
}

func TestDeadEndReplyClosesConversation(t *testing.T) {
	f := models.Flow{
		Name:   "dead-end",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeMessage, Data: models.NodeData{
				Label:          "Diga algo",
				AwaitsResponse: true,
				Triggers:       []models.NodeTrigger{{Type: models.NodeTriggerAny}},
			}},
		},
		Edges: []models.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}
	eng, msgr, _ := newTestEngine(t, f)
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	eng.HandleInboundMessage(context.Background(), user, "qualquer coisa")

	if got := msgr.lastText(); got != msgEndOfConversation {
		t.Errorf("Expected dead-end farewell, got %q", got)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected session closed, got %d", eng.Sessions().Len())
	}
}

func TestConditionalRoutesThroughEdgeHandle(t *testing.T) {
	f := models.Flow{
		Name:   "conditional",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeConditional, Data: models.NodeData{
				Label: "Você já é cliente?",
				Triggers: []models.NodeTrigger{
					{Type: models.NodeTriggerText, Value: "sim"},
					{Type: models.NodeTriggerText, Value: "não"},
				},
			}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Bem-vindo de volta!"}},
			{ID: "n4", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Vamos criar seu cadastro."}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3", SourceHandle: "sim"},
			{ID: "e3", Source: "n2", Target: "n4", SourceHandle: "não"},
		},
	}
	eng, msgr, _ := newTestEngine(t, f)
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	if got := msgr.lastText(); got != "Você já é cliente?" {
		t.Fatalf("Expected the conditional question, got %q", got)
	}

	eng.HandleInboundMessage(context.Background(), user, "não")
	if got := msgr.lastText(); got != "Vamos criar seu cadastro." {
		t.Errorf("Expected the não branch via edge handle, got %q", got)
	}
}

func TestNodeRegexTriggerIsAnchoredByPattern(t *testing.T) {
	f := models.Flow{
		Name:   "greeting",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeMessage, Data: models.NodeData{
				Label:          "Cumprimente",
				AwaitsResponse: true,
				Triggers: []models.NodeTrigger{
					{Type: models.NodeTriggerRegex, Value: "^(hi|hello)$", NextNodeID: "n3"},
				},
			}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Olá!"}},
		},
		Edges: []models.Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}

	t.Run("uppercase exact match advances", func(t *testing.T) {
		eng, msgr, _ := newTestEngine(t, f)
		user := "5511999990000"
		eng.HandleInboundMessage(context.Background(), user, "oi")
		eng.HandleInboundMessage(context.Background(), user, "HI")
		if got := msgr.lastText(); got != "Olá!" {
			t.Errorf("Expected case-insensitive regex match, got %q", got)
		}
	})

	t.Run("longer reply is out of context", func(t *testing.T) {
		eng, msgr, _ := newTestEngine(t, f)
		user := "5511999990000"
		eng.HandleInboundMessage(context.Background(), user, "oi")
		eng.HandleInboundMessage(context.Background(), user, "hi there")
		if got := msgr.lastText(); got != msgOutOfContext {
			t.Errorf("Expected anchored pattern to reject %q, got %q", "hi there", got)
		}
	})
}

func TestProductNodePresentsProductAndAdvances(t *testing.T) {
	f := models.Flow{
		Name:   "catalog",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeProduct, Data: models.NodeData{
				ProductID:  "p1",
				CustomText: "Aproveite a oferta!",
			}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Obrigado pela visita."}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}
	st := store.NewInMemoryStore()
	created, err := st.CreateFlow(f)
	if err != nil {
		t.Fatalf("CreateFlow failed: %v", err)
	}
	reg := trigger.NewRegistry()
	if err := reg.Add(trigger.KindText, "oi", created.ID); err != nil {
		t.Fatalf("trigger Add failed: %v", err)
	}
	msgr := newFakeMessenger()
	prods := newFakeProducts(models.Product{
		ID:          "p1",
		Name:        "Plano Premium",
		Description: "Acesso completo",
		Price:       49.9,
		ImageURL:    "https://example.com/premium.png",
	})
	eng := NewEngine(st, msgr, prods, reg, NewSessionStore())

	eng.HandleInboundMessage(context.Background(), "5511999990000", "oi")

	texts := msgr.sentTexts()
	if len(texts) < 3 {
		t.Fatalf("Expected product card, image URL and end label, got %v", texts)
	}
	card := texts[0].Body
	if !strings.Contains(card, "*Plano Premium*") {
		t.Errorf("Expected bold product name, got %q", card)
	}
	if !strings.Contains(card, "Acesso completo") {
		t.Errorf("Expected description in card, got %q", card)
	}
	if !strings.Contains(card, "R$ 49.90") {
		t.Errorf("Expected formatted price, got %q", card)
	}
	if !strings.Contains(card, "Aproveite a oferta!") {
		t.Errorf("Expected custom text in card, got %q", card)
	}
	if texts[1].Body != "https://example.com/premium.png" {
		t.Errorf("Expected image URL as separate message, got %q", texts[1].Body)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected conversation finished at end node, got %d sessions", eng.Sessions().Len())
	}
}

func TestProductNodeLookupFailureIsNonFatal(t *testing.T) {
	f := models.Flow{
		Name:   "catalog",
		Active: true,
		Nodes: []models.Node{
			{ID: "n1", Type: models.NodeTypeStart},
			{ID: "n2", Type: models.NodeTypeProduct, Data: models.NodeData{ProductID: "missing"}},
			{ID: "n3", Type: models.NodeTypeEnd, Data: models.NodeData{Label: "Fim."}},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "n1", Target: "n2"},
			{ID: "e2", Source: "n2", Target: "n3"},
		},
	}
	eng, msgr, _ := newTestEngine(t, f)

	eng.HandleInboundMessage(context.Background(), "5511999990000", "oi")

	texts := msgr.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("Expected apology then end label, got %v", texts)
	}
	if texts[0].Body != msgProductLookupFailed {
		t.Errorf("Expected lookup failure notice, got %q", texts[0].Body)
	}
	if texts[1].Body != "Fim." {
		t.Errorf("Expected flow to continue past the failure, got %q", texts[1].Body)
	}
}

func TestUnmatchedMessageFallsBackToMostRecentActiveFlow(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, linearFlow())

	eng.HandleInboundMessage(context.Background(), "5511999990000", "mensagem sem gatilho")

	texts := msgr.sentTexts()
	if len(texts) == 0 || texts[0].Body != "Bem-vindo!" {
		t.Errorf("Expected default flow to start, got %v", texts)
	}
}

func TestNoTriggerAndNoActiveFlowSendsNotice(t *testing.T) {
	st := store.NewInMemoryStore()
	msgr := newFakeMessenger()
	eng := NewEngine(st, msgr, newFakeProducts(), trigger.NewRegistry(), NewSessionStore())

	eng.HandleInboundMessage(context.Background(), "5511999990000", "oi")

	if got := msgr.lastText(); got != msgNotUnderstood {
		t.Errorf("Expected not-understood notice, got %q", got)
	}
}

func TestExecuteFlowReplacesExistingSession(t *testing.T) {
	eng, msgr, created := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	if eng.Sessions().Len() != 1 {
		t.Fatalf("Expected suspended session before execute")
	}

	if err := eng.ExecuteFlow(context.Background(), created.ID, user); err != nil {
		t.Fatalf("ExecuteFlow failed: %v", err)
	}
	if lists := msgr.sentLists(); len(lists) != 2 {
		t.Errorf("Expected the flow to restart from the top, got %d list sends", len(lists))
	}
}

func TestExecuteFlowUnknownFlowFails(t *testing.T) {
	eng, _, _ := newTestEngine(t, linearFlow())
	if err := eng.ExecuteFlow(context.Background(), "no-such-flow", "5511999990000"); err == nil {
		t.Error("Expected error for unknown flow")
	}
}

func TestSweepExpiredSessionsNotifiesOnce(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	sess := eng.Sessions().Get(user)
	if sess == nil {
		t.Fatal("Expected a suspended session")
	}
	sess.LastInteraction = time.Now().Add(-SessionTimeout - time.Minute)

	before := len(msgr.sentTexts())
	eng.SweepExpiredSessions(context.Background())
	after := msgr.sentTexts()
	if len(after) != before+1 {
		t.Fatalf("Expected exactly one expiry notice, got %d new messages", len(after)-before)
	}
	if after[len(after)-1].Body != msgSessionExpired {
		t.Errorf("Expected expiry notice, got %q", after[len(after)-1].Body)
	}
	if eng.Sessions().Len() != 0 {
		t.Errorf("Expected expired session removed, got %d", eng.Sessions().Len())
	}

	eng.SweepExpiredSessions(context.Background())
	if len(msgr.sentTexts()) != before+1 {
		t.Error("Expected no second notice for an already-expired session")
	}
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	eng, msgr, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")
	before := len(msgr.sentTexts())

	eng.SweepExpiredSessions(context.Background())
	if eng.Sessions().Get(user) == nil {
		t.Error("Expected fresh session kept")
	}
	if len(msgr.sentTexts()) != before {
		t.Error("Expected no expiry notice for a fresh session")
	}
}

func TestSweepSerializesWithInboundHandling(t *testing.T) {
	eng, _, _ := newTestEngine(t, listFlow())
	user := "5511999990000"

	eng.HandleInboundMessage(context.Background(), user, "oi")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.HandleInboundMessage(context.Background(), user, "oi")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.SweepExpiredSessions(context.Background())
		}()
	}
	wg.Wait()

	if eng.Sessions().Get(user) == nil {
		t.Error("Expected an active session after concurrent handling and sweeps")
	}
}
