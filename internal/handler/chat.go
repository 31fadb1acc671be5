package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aurorabench/converge-backend/internal/agents"
	"github.com/aurorabench/converge-backend/internal/apperr"
	"github.com/aurorabench/converge-backend/internal/conversation"
	"github.com/aurorabench/converge-backend/internal/model"
	"github.com/aurorabench/converge-backend/internal/realtime"
	"github.com/aurorabench/converge-backend/internal/session"
)

const defaultHistoryLimit = 100

// ChatDeps bundles the Chat handler's dependencies.
type ChatDeps struct {
	Sessions *session.Store
	Conv     *conversation.Core
	Coord    *agents.Coordinator
	Hub      *realtime.Hub
}

// flexibleID accepts either a JSON string or a bare number; older widget
// builds send productId as a number.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type sessionRequest struct {
	ClientID     flexibleID `json:"clientId"`
	ProductID    flexibleID `json:"productId"`
	SessionToken string     `json:"sessionToken"`
	VisitorID    string     `json:"visitorId"`
	RoomID       string     `json:"roomId"`
}

// StartSession handles POST /chat/session: resolves or creates the
// visitor's one active room.
func StartSession(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		tenant := firstNonEmpty(string(req.ClientID), string(req.ProductID))
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("clientId", "clientId/productId is required and must be a valid tenant id"))
			return
		}
		if req.VisitorID == "" {
			req.VisitorID = uuid.NewString()
		}

		ctx := r.Context()
		if err := deps.Sessions.EnsureClient(ctx, tenant); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not initialize tenant"))
			return
		}

		var room *model.Room
		var err error
		isNew := false

		if req.RoomID != "" {
			room, err = deps.Sessions.GetRoom(ctx, tenant, req.RoomID)
		} else if req.SessionToken != "" {
			room, err = deps.Sessions.GetRoomByToken(ctx, tenant, req.SessionToken)
		}
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load room"))
			return
		}
		if room == nil {
			room, err = deps.Sessions.GetActiveRoomByVisitor(ctx, tenant, req.VisitorID)
			if err != nil {
				respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load room"))
				return
			}
		}
		if room == nil {
			token := req.SessionToken
			if token == "" {
				token = uuid.NewString()
			}
			room, err = deps.Sessions.CreateRoom(ctx, tenant, req.VisitorID, token)
			if err != nil {
				respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not create room"))
				return
			}
			isNew = true
		}

		messages, err := deps.Sessions.HistoryAscending(ctx, room.RoomID, defaultHistoryLimit)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load history"))
			return
		}

		respondOK(w, map[string]any{
			"roomId":       room.RoomID,
			"messages":     messages,
			"isNewSession": isNew,
			"sessionToken": room.SessionToken,
			"visitorId":    room.VisitorID,
		})
	}
}

type messageRequest struct {
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId"`
	Content  string `json:"content"`
}

// PostMessage handles POST /chat/message: runs one Conversation Core turn.
func PostMessage(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.ClientID) {
			respondError(w, apperr.InvalidField("clientId", "clientId is required"))
			return
		}
		if req.RoomID == "" {
			respondError(w, apperr.InvalidField("roomId", "roomId is required"))
			return
		}

		result, err := deps.Conv.ProcessMessage(r.Context(), req.ClientID, req.RoomID, req.Content)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.Internal, err, "failed to process message"))
			return
		}

		if result.Handover {
			body := map[string]any{"handover": true, "reason": result.HandoverReason}
			if result.AssignedAgent != nil {
				body["assignedAgent"] = result.AssignedAgent
			}
			respondOK(w, body)
			return
		}

		respondOK(w, map[string]any{"message": result.AIMessage, "sources": result.Sources})
	}
}

// GetHistory handles GET /chat/history/:roomId.
func GetHistory(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		tenant := r.URL.Query().Get("clientId")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("clientId", "clientId is required"))
			return
		}
		limit := defaultHistoryLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := parsePositiveInt(v); err == nil {
				limit = n
			}
		}

		room, err := deps.Sessions.GetRoom(r.Context(), tenant, roomID)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load room"))
			return
		}
		if room == nil {
			respondError(w, apperr.New(apperr.NotFound, "room not found"))
			return
		}

		messages, err := deps.Sessions.HistoryAscending(r.Context(), roomID, limit)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not load history"))
			return
		}
		respondOK(w, map[string]any{"messages": messages})
	}
}

// GetConversations handles GET /chat/conversations/:clientId.
func GetConversations(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "clientId")
		visitorID := r.URL.Query().Get("visitorId")
		if !model.ValidTenantID(tenant) || visitorID == "" {
			respondError(w, apperr.InvalidField("visitorId", "clientId and visitorId are required"))
			return
		}

		summaries, err := deps.Sessions.ListConversations(r.Context(), tenant, visitorID)
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not list conversations"))
			return
		}
		respondOK(w, map[string]any{"conversations": summaries})
	}
}

type escalateRequest struct {
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId"`
}

// Escalate handles POST /chat/escalate: forces agent assignment regardless
// of the Handover Detector's verdict.
func Escalate(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req escalateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.ClientID) || req.RoomID == "" {
			respondError(w, apperr.InvalidField("roomId", "clientId and roomId are required"))
			return
		}

		ctx := r.Context()
		room, err := deps.Sessions.GetRoom(ctx, req.ClientID, req.RoomID)
		if err != nil || room == nil {
			respondError(w, apperr.New(apperr.NotFound, "room not found"))
			return
		}

		agent, ok, err := deps.Coord.Assign(ctx, req.ClientID, room, agents.Filters{})
		if err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not assign agent"))
			return
		}
		if !ok {
			deps.Coord.Enqueue(req.ClientID, req.RoomID, model.QueueEntry{Priority: model.PriorityNormal})
			respondOK(w, map[string]any{"assigned": false, "queued": true})
			return
		}
		if err := deps.Sessions.AssignAgent(ctx, req.RoomID, agent.AgentID, agent.Source); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not persist assignment"))
			return
		}
		respondOK(w, map[string]any{"assigned": true, "agent": agent})
	}
}

type closeRequest struct {
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId"`
}

// CloseRoom handles POST /chat/close.
func CloseRoom(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req closeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.ClientID) || req.RoomID == "" {
			respondError(w, apperr.InvalidField("roomId", "clientId and roomId are required"))
			return
		}

		ctx := r.Context()
		room, err := deps.Sessions.GetRoom(ctx, req.ClientID, req.RoomID)
		if err != nil || room == nil {
			respondError(w, apperr.New(apperr.NotFound, "room not found"))
			return
		}
		if err := deps.Sessions.CloseRoom(ctx, req.RoomID); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not close room"))
			return
		}

		var agent *model.Agent
		if room.AssignedAgentID != nil {
			agent = &model.Agent{AgentID: *room.AssignedAgentID, Source: room.AgentSource}
		}
		if err := deps.Coord.Release(ctx, req.ClientID, req.RoomID, agent); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not release agent"))
			return
		}
		if deps.Hub != nil {
			deps.Hub.EmitSessionUpdate(req.ClientID, req.RoomID, map[string]any{"status": "closed"})
		}
		respondOK(w, map[string]any{"closed": true})
	}
}

type agentMessageRequest struct {
	ClientID string `json:"clientId"`
	RoomID   string `json:"roomId"`
	AgentID  string `json:"agentId"`
	Content  string `json:"content"`
}

// PostAgentMessage handles POST /chat/agent/message: a human agent reply,
// persisted and fanned out but never run through the Query Core.
func PostAgentMessage(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req agentMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, apperr.InvalidField("body", "invalid JSON body"))
			return
		}
		if !model.ValidTenantID(req.ClientID) || req.RoomID == "" || req.Content == "" {
			respondError(w, apperr.InvalidField("content", "clientId, roomId and content are required"))
			return
		}

		ctx := r.Context()
		room, err := deps.Sessions.GetRoom(ctx, req.ClientID, req.RoomID)
		if err != nil || room == nil {
			respondError(w, apperr.New(apperr.NotFound, "room not found"))
			return
		}

		msg := model.Message{
			RoomID:     req.RoomID,
			TenantID:   req.ClientID,
			SenderType: model.SenderAgent,
			SenderID:   &req.AgentID,
			Content:    req.Content,
		}
		if err := deps.Sessions.AppendMessage(ctx, &msg); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not persist message"))
			return
		}
		if err := deps.Sessions.TouchActivity(ctx, req.RoomID); err != nil {
			respondError(w, apperr.Wrap(apperr.UpstreamUnavailable, err, "could not update room activity"))
			return
		}
		if deps.Hub != nil {
			deps.Hub.EmitNewMessage(req.ClientID, req.RoomID, msg)
		}
		respondOK(w, map[string]any{"message": msg})
	}
}

// GetQueuePosition handles GET /chat/queue/:roomId.
func GetQueuePosition(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		tenant := r.URL.Query().Get("clientId")
		if !model.ValidTenantID(tenant) {
			respondError(w, apperr.InvalidField("clientId", "clientId is required"))
			return
		}
		position, depth, ok := deps.Coord.Queue.Position(tenant, roomID)
		if !ok {
			respondOK(w, map[string]any{"queued": false})
			return
		}
		eta, _ := deps.Coord.Queue.EstimatedWait(tenant, roomID, 3*time.Minute)
		respondOK(w, map[string]any{
			"queued":     true,
			"position":   position,
			"depth":      depth,
			"etaSeconds": int(eta.Seconds()),
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, apperr.New(apperr.InvalidInput, "not a positive integer")
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, apperr.New(apperr.InvalidInput, "must be positive")
	}
	return n, nil
}
