package model

import "time"

// RoomStatus is the coarse-grained open/closed status persisted on a Room.
// The richer state machine (NEW/ACTIVE/AWAITING_IDENTITY/HANDED_OVER/CLOSED)
// lives in internal/conversation and is derived, not stored, from this plus
// AssignedAgentID/Takeover.
type RoomStatus string

const (
	RoomActive RoomStatus = "active"
	RoomClosed RoomStatus = "closed"
)

// AgentSourceKind distinguishes an agent fetched from the local directory
// from one fetched through the external agent bridge.
type AgentSourceKind string

const (
	AgentSourceLocal    AgentSourceKind = "local"
	AgentSourceExternal AgentSourceKind = "external"
)

// Room is a single conversation between a visitor and the tenant.
type Room struct {
	RoomID           string          `json:"roomId"`
	TenantID         string          `json:"tenantId"`
	SessionToken     string          `json:"sessionToken"`
	VisitorID        string          `json:"visitorId"`
	Status           RoomStatus      `json:"status"`
	AssignedAgentID  *string         `json:"assignedAgentId,omitempty"`
	AgentSource      AgentSourceKind `json:"agentSource,omitempty"`
	Takeover         bool            `json:"takeover"`
	CustomerEmail    *string         `json:"customerEmail,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	LastActivityAt   time.Time       `json:"lastActivityAt"`
	ClosedAt         *time.Time      `json:"closedAt,omitempty"`
}

// SenderType identifies who authored a Message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// MessageMetadata carries the optional, sender-dependent extras a Message
// may record: retrieval sources for AI answers, classifier intent, answer
// confidence, and query latency.
type MessageMetadata struct {
	Sources       []string `json:"sources,omitempty"`
	Intent        string   `json:"intent,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	QueryDuration int64    `json:"queryDuration,omitempty"`
}

// Message is one turn in a Room's history. Ordering within a room is
// strictly by CreatedAt then MessageID.
type Message struct {
	MessageID  string           `json:"messageId"`
	RoomID     string           `json:"roomId"`
	TenantID   string           `json:"tenantId"`
	SenderType SenderType       `json:"senderType"`
	SenderID   *string          `json:"senderId,omitempty"`
	Content    string           `json:"content"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// SessionContext is a Room's accumulated structured state: collected
// identity entities, plus an optional workflow in progress. Unique on
// (RoomID, TenantID); CollectedEntities is monotonic across a session
// except for the internal pendingHandover/handoverReason flags, which are
// cleared once a handover resolves.
type SessionContext struct {
	RoomID            string         `json:"roomId"`
	TenantID          string         `json:"tenantId"`
	CollectedEntities map[string]any `json:"collectedEntities"`
	CurrentWorkflow   *string        `json:"currentWorkflow,omitempty"`
	WorkflowState     map[string]any `json:"workflowState,omitempty"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// PendingHandover reports whether an assisted handover is awaiting identity.
func (s *SessionContext) PendingHandover() bool {
	v, ok := s.CollectedEntities["pendingHandover"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// HandoverReason returns the reason recorded for a pending assisted handover.
func (s *SessionContext) HandoverReason() string {
	v, _ := s.CollectedEntities["handoverReason"].(string)
	return v
}

// ClearPendingHandover drops the internal pendingHandover/handoverReason
// flags once a handover resolves (agent assigned, or abandoned).
func (s *SessionContext) ClearPendingHandover() {
	delete(s.CollectedEntities, "pendingHandover")
	delete(s.CollectedEntities, "handoverReason")
}

// ConversationSummary is the shape returned by the conversations list
// endpoint: one row per room, ordered by most recent activity.
type ConversationSummary struct {
	RoomID        string    `json:"roomId"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}
