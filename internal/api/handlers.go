package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/trigger"
)

// sendRequest is the payload for direct text sends.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message body cannot be empty"))
		return
	}
	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.sendHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.msgService.SendText(r.Context(), canonicalTo, "", req.Body); err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}
	slog.Info("Server.sendHandler: message sent successfully", "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

func (s *Server) createFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var f models.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		slog.Warn("Server.createFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := f.Validate(); err != nil {
		slog.Warn("Server.createFlowHandler: validation failed", "error", err, "flowName", f.Name)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	created, err := s.store.CreateFlow(f)
	if err != nil {
		slog.Error("Server.createFlowHandler: failed to create flow", "error", err, "flowName", f.Name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create flow"))
		return
	}
	slog.Info("Server.createFlowHandler: flow created", "flowID", created.ID, "flowName", created.Name)
	writeJSONResponse(w, http.StatusCreated, models.Success(created))
}

func (s *Server) listFlowsHandler(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListFlows()
	if err != nil {
		slog.Error("Server.listFlowsHandler: failed to list flows", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list flows"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(flows))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.store.GetFlowByID(id)
	if err != nil {
		slog.Error("Server.getFlowHandler: failed to fetch flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
		return
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(f))
}

func (s *Server) updateFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	var f models.Flow
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		slog.Warn("Server.updateFlowHandler: failed to decode JSON", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if f.Nodes != nil {
		if err := f.Validate(); err != nil {
			slog.Warn("Server.updateFlowHandler: validation failed", "error", err, "flowID", id)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
	}
	updated, err := s.store.UpdateFlow(id, f)
	if err != nil {
		slog.Error("Server.updateFlowHandler: failed to update flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update flow"))
		return
	}
	if updated == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}
	slog.Info("Server.updateFlowHandler: flow updated", "flowID", id)
	writeJSONResponse(w, http.StatusOK, models.Success(updated))
}

func (s *Server) deleteFlowHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteTriggersByFlow(id); err != nil {
		slog.Error("Server.deleteFlowHandler: failed to delete flow triggers", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
		return
	}
	s.triggers.Remove(id)
	if err := s.store.DeleteFlow(id); err != nil {
		slog.Error("Server.deleteFlowHandler: failed to delete flow", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete flow"))
		return
	}
	slog.Info("Server.deleteFlowHandler: flow deleted", "flowID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow deleted", nil))
}

// executeRequest is the payload for pushing a flow to a contact.
type executeRequest struct {
	To string `json:"to"`
}

func (s *Server) executeFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	id := r.PathValue("id")
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.executeFlowHandler: failed to decode JSON", "error", err, "flowID", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	canonicalTo, err := s.msgService.ValidateAndCanonicalizeRecipient(req.To)
	if err != nil {
		slog.Warn("Server.executeFlowHandler: recipient validation failed", "error", err, "original_to", req.To)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.engine.ExecuteFlow(r.Context(), id, canonicalTo); err != nil {
		slog.Error("Server.executeFlowHandler: failed to execute flow", "error", err, "flowID", id, "to", canonicalTo)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
		return
	}
	slog.Info("Server.executeFlowHandler: flow executed", "flowID", id, "to", canonicalTo)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow started", nil))
}

func (s *Server) listTriggersHandler(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.store.ListActiveTriggers()
	if err != nil {
		slog.Error("Server.listTriggersHandler: failed to list triggers", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list triggers"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(triggers))
}

func (s *Server) createTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var t models.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		slog.Warn("Server.createTriggerHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := t.Validate(); err != nil {
		slog.Warn("Server.createTriggerHandler: validation failed", "error", err, "flowID", t.FlowID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	f, err := s.store.GetFlowByID(t.FlowID)
	if err != nil {
		slog.Error("Server.createTriggerHandler: failed to fetch flow", "error", err, "flowID", t.FlowID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch flow"))
		return
	}
	if f == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Flow not found"))
		return
	}

	created, err := s.store.CreateTrigger(t)
	if err != nil {
		slog.Error("Server.createTriggerHandler: failed to store trigger", "error", err, "flowID", t.FlowID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create trigger"))
		return
	}
	kind := trigger.KindText
	if created.Type == models.TriggerTypeRegex {
		kind = trigger.KindRegex
	}
	if err := s.triggers.Add(kind, created.Value, created.FlowID); err != nil {
		slog.Error("Server.createTriggerHandler: failed to register trigger", "error", err, "flowID", t.FlowID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.createTriggerHandler: trigger created", "triggerID", created.ID, "flowID", created.FlowID)
	writeJSONResponse(w, http.StatusCreated, models.Success(created))
}

func (s *Server) deleteTriggersHandler(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("flowId")
	if err := s.store.DeleteTriggersByFlow(flowID); err != nil {
		slog.Error("Server.deleteTriggersHandler: failed to delete triggers", "error", err, "flowID", flowID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete triggers"))
		return
	}
	s.triggers.Remove(flowID)
	slog.Info("Server.deleteTriggersHandler: triggers removed", "flowID", flowID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Triggers removed", nil))
}

// inboundRequest is the payload for injecting an inbound message, used by
// gateway webhooks and manual testing.
type inboundRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

func (s *Server) inboundMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.inboundMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.From == "" || req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("from and body are required"))
		return
	}
	s.engine.HandleInboundMessage(context.Background(), req.From, req.Body)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message processed", nil))
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]int{
		"activeSessions": s.engine.Sessions().Len(),
	}))
}

func (s *Server) searchProductsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ProductFilter{
		SearchTerm:   q.Get("search"),
		Category:     q.Get("category"),
		ProviderName: q.Get("provider"),
	}
	if v := q.Get("minPrice"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinPrice = p
		}
	}
	if v := q.Get("maxPrice"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxPrice = p
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	page, err := s.products.Search(r.Context(), filter)
	if err != nil {
		slog.Error("Server.searchProductsHandler: search failed", "error", err, "provider", filter.ProviderName)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to search products"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(page))
}

func (s *Server) getProductHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	provider := r.URL.Query().Get("provider")
	product, err := s.products.GetProductByID(r.Context(), provider, id)
	if err != nil {
		if errors.Is(err, models.ErrProductNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Product not found"))
			return
		}
		slog.Error("Server.getProductHandler: lookup failed", "error", err, "productID", id, "provider", provider)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch product"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(product))
}
