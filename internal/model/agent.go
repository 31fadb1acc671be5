package model

// AgentStatus is the live availability of an Agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
	AgentBusy    AgentStatus = "busy"
	AgentAway    AgentStatus = "away"
)

// Agent is a human support agent, from either the local directory or an
// external one (CRM, helpdesk) reachable through an AgentSource.
type Agent struct {
	AgentID       string          `json:"agentId"`
	Source        AgentSourceKind `json:"source"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Status        AgentStatus     `json:"status"`
	MaxConcurrent int             `json:"maxConcurrent"`
	CurrentLoad   int             `json:"currentLoad"`
	Department    string          `json:"department,omitempty"`
	Skills        []string        `json:"skills,omitempty"`
}

// Priority is the urgency band a waiting-room QueueEntry is ranked by.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityVIP    Priority = "VIP"
)

// priorityRank gives PriorityVIP the highest sort weight.
var priorityRank = map[Priority]int{
	PriorityVIP:    3,
	PriorityHigh:   2,
	PriorityNormal: 1,
	PriorityLow:    0,
}

// Rank returns p's sort weight, higher is more urgent. Unknown values sort
// as PriorityNormal.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}
