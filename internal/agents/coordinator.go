package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Coordinator is the single entry point the Conversation Core drives:
// selecting and load-adjusting an agent, falling back to the waiting room,
// and creating the local user row an externally-sourced agent needs before
// Room.assigned_agent_id's FK constraint can reference it.
type Coordinator struct {
	Directory *Directory
	Queue     *Queue
	Local     *LocalSource
}

// NewCoordinator wires a Directory, Queue and LocalSource into one
// Conversation Core-facing selector.
func NewCoordinator(dir *Directory, queue *Queue, local *LocalSource) *Coordinator {
	return &Coordinator{Directory: dir, Queue: queue, Local: local}
}

// Assign selects the best candidate for (tenant, room) and increments its
// load. ok is false when no candidate qualifies; the caller should enqueue.
func (c *Coordinator) Assign(ctx context.Context, tenant string, room *model.Room, f Filters) (*model.Agent, bool, error) {
	agent, ok, err := c.Directory.SelectAgent(ctx, tenant, f)
	if err != nil {
		return nil, false, fmt.Errorf("agents.Coordinator.Assign: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var source Source = c.Directory.Local
	loadID := agent.AgentID
	if agent.Source == model.AgentSourceExternal {
		source = c.Directory.External
		localID, err := c.Local.EnsureLocalUser(ctx, tenant, *agent)
		if err != nil {
			return nil, false, fmt.Errorf("agents.Coordinator.Assign: %w", err)
		}
		// loadID keeps the external directory's own agent id: AdjustLoad
		// below targets that directory, not the local users row just
		// created for the FK. agent.AgentID becomes the local id so the
		// caller can persist it onto Room.assigned_agent_id.
		agent.AgentID = localID
	}
	if err := source.AdjustLoad(ctx, tenant, loadID, 1); err != nil {
		return nil, false, fmt.Errorf("agents.Coordinator.Assign: %w", err)
	}

	c.Queue.Remove(tenant, room.RoomID)
	return agent, true, nil
}

// Enqueue adds (tenant, roomID) to the waiting room with the given
// priority/department/skills, stamped with the current time.
func (c *Coordinator) Enqueue(tenant, roomID string, entry model.QueueEntry) {
	entry.TenantID = tenant
	entry.RoomID = roomID
	if entry.Priority == "" {
		entry.Priority = model.PriorityNormal
	}
	entry.EnqueuedAt = time.Now()
	c.Queue.Enqueue(entry)
}

// Release decrements an agent's load and drops any queue entry for the
// room, called when a room closes or an agent is reassigned.
func (c *Coordinator) Release(ctx context.Context, tenant, roomID string, agent *model.Agent) error {
	c.Queue.Remove(tenant, roomID)
	if agent == nil {
		return nil
	}
	var source Source = c.Directory.Local
	loadID := agent.AgentID
	if agent.Source == model.AgentSourceExternal {
		source = c.Directory.External
		// By the time Release runs, agent.AgentID only ever holds the local
		// users-row id reconstructed from Room.assigned_agent_id; recover the
		// external directory's own id through the mapping EnsureLocalUser
		// recorded at Assign time.
		externalID, err := c.Local.ExternalID(ctx, tenant, agent.AgentID)
		if err != nil {
			return fmt.Errorf("agents.Coordinator.Release: %w", err)
		}
		loadID = externalID
	}
	if source == nil {
		return nil
	}
	if err := source.AdjustLoad(ctx, tenant, loadID, -1); err != nil {
		return fmt.Errorf("agents.Coordinator.Release: %w", err)
	}
	return nil
}
