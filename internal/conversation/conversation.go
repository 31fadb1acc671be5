// Package conversation is the Conversation Core: the turn orchestrator that
// ties the Session Store, Handover Detector, Extraction Helper, Agent
// Directory and Query Core into the per-message processing algorithm, plus
// the room state machine it derives for callers that need it.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aurorabench/converge-backend/internal/agents"
	"github.com/aurorabench/converge-backend/internal/extraction"
	"github.com/aurorabench/converge-backend/internal/handover"
	"github.com/aurorabench/converge-backend/internal/model"
	"github.com/aurorabench/converge-backend/internal/query"
)

// State is the derived, richer room state machine. Room.Status only ever
// persists active/closed; everything finer is computed from
// AssignedAgentID/Takeover/SessionContext at read time.
type State string

const (
	StateNew              State = "NEW"
	StateActive           State = "ACTIVE"
	StateAwaitingIdentity State = "AWAITING_IDENTITY"
	StateHandedOver       State = "HANDED_OVER"
	StateClosed           State = "CLOSED"
)

// DeriveState computes a room's State from its persisted fields.
func DeriveState(room *model.Room, sc *model.SessionContext, hasMessages bool) State {
	if room.Status == model.RoomClosed {
		return StateClosed
	}
	if room.Takeover {
		return StateHandedOver
	}
	if sc != nil && sc.PendingHandover() {
		return StateAwaitingIdentity
	}
	if !hasMessages {
		return StateNew
	}
	return StateActive
}

const historyWindow = 10

const apologyMessage = "I apologize, but I encountered an error processing your message. A team member will follow up shortly."

// Store is the subset of the Session Store the turn algorithm needs.
type Store interface {
	GetRoom(ctx context.Context, tenant, roomID string) (*model.Room, error)
	TouchActivity(ctx context.Context, roomID string) error
	AssignAgent(ctx context.Context, roomID, agentID string, source model.AgentSourceKind) error
	UpdateCustomerEmail(ctx context.Context, roomID, email string) error
	AppendMessage(ctx context.Context, msg *model.Message) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error)
	GetOrCreateSessionContext(ctx context.Context, tenant, roomID string) (*model.SessionContext, error)
	SaveSessionContext(ctx context.Context, sc *model.SessionContext) error
}

// Querier is the subset of the Query Core the turn algorithm needs.
type Querier interface {
	Query(ctx context.Context, tenant, question string, opts query.Options) (*query.Result, error)
}

// Emitter publishes real-time events for a room. The Real-time Fan-out
// package implements this; tests use a recording fake.
type Emitter interface {
	EmitNewMessage(tenant, roomID string, msg model.Message)
	EmitTyping(tenant, roomID string, who string, isTyping bool)
}

// Bridge mirrors customer/AI traffic and handover events to an external
// agent backend. The Real-time Fan-out package implements this.
type Bridge interface {
	MirrorMessage(tenant string, room *model.Room, msg model.Message)
	NotifyAgentAssigned(tenant string, room *model.Room, agent model.Agent)
}

// Selector picks an agent for a room, wrapping internal/agents' Directory
// + Queue so the Conversation Core never depends on their internals.
type Selector interface {
	Assign(ctx context.Context, tenant string, room *model.Room, f agents.Filters) (*model.Agent, bool, error)
	Enqueue(tenant, roomID string, entry model.QueueEntry)
}

// MetricsRecorder lets the Conversation Core report domain events onto the
// HTTP layer's Prometheus registry without importing it directly.
type MetricsRecorder interface {
	IncrementLowConfidenceHandover()
}

// Result is the outcome of a successful processMessage call.
type Result struct {
	CustomerMessage model.Message
	AIMessage       *model.Message
	Sources         []query.Source
	Handover        bool
	HandoverReason  handover.Reason
	AssignedAgent   *model.Agent
}

// Core orchestrates one conversational turn end to end.
type Core struct {
	store     Store
	detector  *handover.Detector
	extractor *extraction.Helper
	querier   Querier
	selector  Selector
	emitter   Emitter
	bridge    Bridge
	metrics   MetricsRecorder

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// SetMetrics attaches a MetricsRecorder after construction; nil (the
// default) is a no-op.
func (c *Core) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// New creates a Core. emitter/bridge may be nil in tests; a nil value is a
// no-op.
func New(store Store, detector *handover.Detector, extractor *extraction.Helper, querier Querier, selector Selector, emitter Emitter, bridge Bridge) *Core {
	return &Core{
		store:     store,
		detector:  detector,
		extractor: extractor,
		querier:   querier,
		selector:  selector,
		emitter:   emitter,
		bridge:    bridge,
		locks:     map[string]*sync.Mutex{},
	}
}

// roomLock returns the per-room mutex serializing ProcessMessage calls;
// at most one turn is in flight per room.
func (c *Core) roomLock(roomID string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[roomID] = l
	}
	return l
}

// ProcessMessage runs the full customer-turn algorithm: persist, detect
// handover, extract identity, query, persist, fan out.
func (c *Core) ProcessMessage(ctx context.Context, tenant, roomID, content string) (*Result, error) {
	lock := c.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := c.store.GetRoom(ctx, tenant, roomID)
	if err != nil {
		return nil, fmt.Errorf("conversation.ProcessMessage: %w", err)
	}
	if room == nil {
		return nil, fmt.Errorf("conversation.ProcessMessage: room %s not found", roomID)
	}

	customerMsg := model.Message{
		RoomID:     roomID,
		TenantID:   tenant,
		SenderType: model.SenderCustomer,
		Content:    content,
	}
	if err := c.store.AppendMessage(ctx, &customerMsg); err != nil {
		return nil, fmt.Errorf("conversation.ProcessMessage: persist customer message: %w", err)
	}
	c.emitNewMessage(tenant, roomID, customerMsg)
	c.mirror(tenant, room, customerMsg)
	if err := c.store.TouchActivity(ctx, roomID); err != nil {
		slog.Warn("conversation: touch activity failed", "room", roomID, "error", err)
	}

	history, sc, err := c.loadTurnState(ctx, tenant, roomID)
	if err != nil {
		return c.failTurn(ctx, tenant, room, customerMsg, err)
	}

	verdict := c.detector.Evaluate(content, history, handover.Options{CollectedEntities: sc.CollectedEntities})
	if verdict != nil && verdict.ShouldHandover {
		c.recordHandover(verdict.Reason)
		if res, handled, err := c.handleVerdict(ctx, tenant, room, sc, customerMsg, verdict); handled {
			return res, err
		}
	}

	c.emitTyping(tenant, roomID, true)
	defer c.emitTyping(tenant, roomID, false)

	entities, err := c.extractor.Extract(ctx, content)
	if err != nil {
		slog.Warn("conversation: extraction failed", "room", roomID, "error", err)
	}
	mergeEntities(sc, entities)
	if err := c.mirrorIdentity(ctx, room, sc); err != nil {
		slog.Warn("conversation: mirror identity failed", "room", roomID, "error", err)
	}

	if sc.PendingHandover() && hasNewIdentity(entities) {
		if res, handled, err := c.resolvePendingHandover(ctx, tenant, room, sc, customerMsg); handled {
			return res, err
		}
	}

	if err := c.store.SaveSessionContext(ctx, sc); err != nil {
		slog.Warn("conversation: save session context failed", "room", roomID, "error", err)
	}

	result, err := c.querier.Query(ctx, tenant, content, query.Options{
		History:           history,
		CollectedEntities: sc.CollectedEntities,
	})
	if err != nil {
		return c.failTurn(ctx, tenant, room, customerMsg, err)
	}

	aiMsg := model.Message{
		RoomID:     roomID,
		TenantID:   tenant,
		SenderType: model.SenderAI,
		Content:    result.Text,
		Metadata: &model.MessageMetadata{
			Sources:       sourceIDs(result.Sources),
			Confidence:    result.Confidence,
			QueryDuration: result.LatencyMs,
		},
	}
	if err := c.store.AppendMessage(ctx, &aiMsg); err != nil {
		return nil, fmt.Errorf("conversation.ProcessMessage: persist ai message: %w", err)
	}
	c.emitNewMessage(tenant, roomID, aiMsg)
	c.mirror(tenant, room, aiMsg)

	if len(result.ExtractedEntities) > 0 {
		mergeEntities(sc, result.ExtractedEntities)
		if err := c.store.SaveSessionContext(ctx, sc); err != nil {
			slog.Warn("conversation: save session context failed", "room", roomID, "error", err)
		}
	}

	return &Result{CustomerMessage: customerMsg, AIMessage: &aiMsg, Sources: result.Sources}, nil
}

func (c *Core) loadTurnState(ctx context.Context, tenant, roomID string) ([]model.Message, *model.SessionContext, error) {
	history, err := c.store.RecentMessages(ctx, roomID, historyWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	sc, err := c.store.GetOrCreateSessionContext(ctx, tenant, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("load session context: %w", err)
	}
	return history, sc, nil
}

// handleVerdict runs the immediate/assisted handover branches.
// handled is true when the caller should return res/err immediately rather
// than falling through to the LLM path.
func (c *Core) handleVerdict(ctx context.Context, tenant string, room *model.Room, sc *model.SessionContext, customerMsg model.Message, verdict *handover.Verdict) (*Result, bool, error) {
	if !verdict.Immediate {
		sc.CollectedEntities["pendingHandover"] = true
		sc.CollectedEntities["handoverReason"] = string(verdict.Reason)
		if err := c.store.SaveSessionContext(ctx, sc); err != nil {
			slog.Warn("conversation: save session context failed", "room", room.RoomID, "error", err)
		}
		return nil, false, nil
	}

	if room.AssignedAgentID != nil {
		sysMsg := c.persistSystemMessage(ctx, room, "A team member has already been notified and will respond shortly.")
		return &Result{CustomerMessage: customerMsg, AIMessage: sysMsg, Handover: true, HandoverReason: verdict.Reason}, true, nil
	}

	agent, assigned, err := c.assign(ctx, tenant, room, agents.Filters{})
	if err != nil {
		res, failErr := c.failTurn(ctx, tenant, room, customerMsg, fmt.Errorf("assign agent: %w", err))
		return res, true, failErr
	}
	if assigned {
		sysMsg := c.persistSystemMessage(ctx, room, fmt.Sprintf("You are now connected with %s. How can they help you today?", agent.Name))
		return &Result{CustomerMessage: customerMsg, AIMessage: sysMsg, Handover: true, HandoverReason: verdict.Reason, AssignedAgent: agent}, true, nil
	}

	c.enqueue(tenant, room, verdict.Reason)
	sysMsg := c.persistSystemMessage(ctx, room, "All our agents are currently busy. Please wait and someone will be with you shortly.")
	return &Result{CustomerMessage: customerMsg, AIMessage: sysMsg, Handover: true, HandoverReason: verdict.Reason}, true, nil
}

// resolvePendingHandover is the late-assignment path:
// once identity completes a previously-assisted handover, try again to
// assign an agent before falling through to the LLM.
func (c *Core) resolvePendingHandover(ctx context.Context, tenant string, room *model.Room, sc *model.SessionContext, customerMsg model.Message) (*Result, bool, error) {
	reason := handover.Reason(sc.HandoverReason())
	agent, assigned, err := c.assign(ctx, tenant, room, agents.Filters{})
	if err != nil {
		slog.Warn("conversation: late assignment failed", "room", room.RoomID, "error", err)
		return nil, false, nil
	}
	if !assigned {
		return nil, false, nil
	}
	sc.ClearPendingHandover()
	if err := c.store.SaveSessionContext(ctx, sc); err != nil {
		slog.Warn("conversation: save session context failed", "room", room.RoomID, "error", err)
	}
	sysMsg := c.persistSystemMessage(ctx, room, fmt.Sprintf("You are now connected with %s. How can they help you today?", agent.Name))
	return &Result{CustomerMessage: customerMsg, AIMessage: sysMsg, Handover: true, HandoverReason: reason, AssignedAgent: agent}, true, nil
}

func (c *Core) assign(ctx context.Context, tenant string, room *model.Room, f agents.Filters) (*model.Agent, bool, error) {
	agent, ok, err := c.selector.Assign(ctx, tenant, room, f)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := c.store.AssignAgent(ctx, room.RoomID, agent.AgentID, agent.Source); err != nil {
		return nil, false, fmt.Errorf("assign agent: %w", err)
	}
	room.AssignedAgentID = &agent.AgentID
	room.AgentSource = agent.Source
	room.Takeover = true
	c.notifyAssigned(tenant, room, *agent)
	return agent, true, nil
}

func (c *Core) enqueue(tenant string, room *model.Room, reason handover.Reason) {
	c.selector.Enqueue(tenant, room.RoomID, model.QueueEntry{
		TenantID: tenant,
		RoomID:   room.RoomID,
	})
}

func (c *Core) persistSystemMessage(ctx context.Context, room *model.Room, content string) *model.Message {
	msg := model.Message{
		RoomID:     room.RoomID,
		TenantID:   room.TenantID,
		SenderType: model.SenderSystem,
		Content:    content,
	}
	if err := c.store.AppendMessage(ctx, &msg); err != nil {
		slog.Error("conversation: persist system message failed", "room", room.RoomID, "error", err)
		return &msg
	}
	c.emitNewMessage(room.TenantID, room.RoomID, msg)
	c.mirror(room.TenantID, room, msg)
	return &msg
}

// failTurn is the turn error policy: an AI apology is always
// persisted and emitted, already-persisted messages are never rolled back,
// and the original error is still surfaced to the caller.
func (c *Core) failTurn(ctx context.Context, tenant string, room *model.Room, customerMsg model.Message, turnErr error) (*Result, error) {
	apology := model.Message{
		RoomID:     room.RoomID,
		TenantID:   tenant,
		SenderType: model.SenderAI,
		Content:    apologyMessage,
	}
	if err := c.store.AppendMessage(ctx, &apology); err != nil {
		slog.Error("conversation: persist apology failed", "room", room.RoomID, "error", err)
	} else {
		c.emitNewMessage(tenant, room.RoomID, apology)
		c.mirror(tenant, room, apology)
	}
	return nil, fmt.Errorf("conversation.ProcessMessage: %w", turnErr)
}

func (c *Core) mirrorIdentity(ctx context.Context, room *model.Room, sc *model.SessionContext) error {
	email, _ := sc.CollectedEntities["email"].(string)
	if email == "" {
		return nil
	}
	return c.store.UpdateCustomerEmail(ctx, room.RoomID, email)
}

func (c *Core) emitNewMessage(tenant, roomID string, msg model.Message) {
	if c.emitter != nil {
		c.emitter.EmitNewMessage(tenant, roomID, msg)
	}
}

func (c *Core) emitTyping(tenant, roomID string, isTyping bool) {
	if c.emitter != nil {
		c.emitter.EmitTyping(tenant, roomID, "ai", isTyping)
	}
}

func (c *Core) mirror(tenant string, room *model.Room, msg model.Message) {
	if c.bridge != nil {
		c.bridge.MirrorMessage(tenant, room, msg)
	}
}

func (c *Core) notifyAssigned(tenant string, room *model.Room, agent model.Agent) {
	if c.bridge != nil {
		c.bridge.NotifyAgentAssigned(tenant, room, agent)
	}
}

// recordHandover reports a fired handover verdict onto the metrics
// registry; only low-confidence handovers are singled out today since the
// other reasons are already visible as handover volume itself.
func (c *Core) recordHandover(reason handover.Reason) {
	if c.metrics != nil && reason == handover.ReasonLowConfidence {
		c.metrics.IncrementLowConfidenceHandover()
	}
}

// HandleAgentMessage persists a reply the external agent backend sent for
// a room and fans it out, mirroring what PostAgentMessage does for a
// locally-authenticated agent. Implements realtime.InboundHandler
// structurally so the Real-time Fan-out's Pub/Sub bridge can hand inbound
// events straight to the Conversation Core.
func (c *Core) HandleAgentMessage(ctx context.Context, tenant, roomID, agentID, content string) error {
	room, err := c.store.GetRoom(ctx, tenant, roomID)
	if err != nil {
		return fmt.Errorf("conversation.HandleAgentMessage: %w", err)
	}
	if room == nil {
		return fmt.Errorf("conversation.HandleAgentMessage: room %s not found", roomID)
	}
	msg := model.Message{
		RoomID:     roomID,
		TenantID:   tenant,
		SenderType: model.SenderAgent,
		SenderID:   &agentID,
		Content:    content,
	}
	if err := c.store.AppendMessage(ctx, &msg); err != nil {
		return fmt.Errorf("conversation.HandleAgentMessage: %w", err)
	}
	if err := c.store.TouchActivity(ctx, roomID); err != nil {
		slog.Warn("conversation: touch activity failed", "room", roomID, "error", err)
	}
	c.emitNewMessage(tenant, roomID, msg)
	return nil
}

// HandleAgentAssigned records that the external agent backend took over a
// room, so the room's derived state reflects the handover even though the
// assignment happened outside this process's Agent Directory.
func (c *Core) HandleAgentAssigned(ctx context.Context, tenant, roomID, agentEmail, agentName string) error {
	room, err := c.store.GetRoom(ctx, tenant, roomID)
	if err != nil {
		return fmt.Errorf("conversation.HandleAgentAssigned: %w", err)
	}
	if room == nil {
		return fmt.Errorf("conversation.HandleAgentAssigned: room %s not found", roomID)
	}
	if err := c.store.AssignAgent(ctx, roomID, agentEmail, model.AgentSourceExternal); err != nil {
		return fmt.Errorf("conversation.HandleAgentAssigned: %w", err)
	}
	c.persistSystemMessage(ctx, room, fmt.Sprintf("You are now connected with %s. How can they help you today?", agentName))
	return nil
}

func mergeEntities(sc *model.SessionContext, entities map[string]any) {
	for k, v := range entities {
		sc.CollectedEntities[k] = v
	}
}

func hasNewIdentity(entities map[string]any) bool {
	for _, k := range []string{"email", "name", "phone"} {
		if _, ok := entities[k]; ok {
			return true
		}
	}
	return false
}

func sourceIDs(sources []query.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.ChunkID
	}
	return out
}
