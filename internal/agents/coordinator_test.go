package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

type fakeSource struct {
	agents      []model.Agent
	adjustCalls []string
	adjustErr   error
}

func (f *fakeSource) List(ctx context.Context, tenant string, filt Filters) ([]model.Agent, error) {
	return f.agents, nil
}

func (f *fakeSource) AdjustLoad(ctx context.Context, tenant, agentID string, delta int) error {
	if f.adjustErr != nil {
		return f.adjustErr
	}
	f.adjustCalls = append(f.adjustCalls, agentID)
	return nil
}

func TestCoordinator_AssignPicksAndAdjustsLocalAgent(t *testing.T) {
	local := &fakeSource{agents: []model.Agent{{AgentID: "a1", Source: model.AgentSourceLocal, MaxConcurrent: 4}}}
	dir := NewDirectory(local, nil, false, false)
	queue := NewQueue(time.Hour)
	queue.Enqueue(model.QueueEntry{TenantID: "t1", RoomID: "r1", EnqueuedAt: time.Now()})
	coord := NewCoordinator(dir, queue, nil)

	room := &model.Room{RoomID: "r1", TenantID: "t1"}
	agent, ok, err := coord.Assign(context.Background(), "t1", room, Filters{})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if !ok || agent.AgentID != "a1" {
		t.Fatalf("expected agent a1 assigned, got %+v ok=%v", agent, ok)
	}
	if len(local.adjustCalls) != 1 || local.adjustCalls[0] != "a1" {
		t.Errorf("adjustCalls = %v, want [a1]", local.adjustCalls)
	}
	if _, _, ok := queue.Position("t1", "r1"); ok {
		t.Error("expected the room to be removed from the queue once assigned")
	}
}

func TestCoordinator_AssignNoCandidateReturnsFalse(t *testing.T) {
	local := &fakeSource{}
	dir := NewDirectory(local, nil, false, false)
	coord := NewCoordinator(dir, NewQueue(time.Hour), nil)

	room := &model.Room{RoomID: "r1", TenantID: "t1"}
	agent, ok, err := coord.Assign(context.Background(), "t1", room, Filters{})
	if err != nil {
		t.Fatalf("Assign() error: %v", err)
	}
	if ok || agent != nil {
		t.Fatalf("expected no candidate, got %+v ok=%v", agent, ok)
	}
}

func TestCoordinator_AssignPropagatesAdjustLoadError(t *testing.T) {
	local := &fakeSource{
		agents:    []model.Agent{{AgentID: "a1", Source: model.AgentSourceLocal, MaxConcurrent: 4}},
		adjustErr: errors.New("db unavailable"),
	}
	dir := NewDirectory(local, nil, false, false)
	coord := NewCoordinator(dir, NewQueue(time.Hour), nil)

	room := &model.Room{RoomID: "r1", TenantID: "t1"}
	_, _, err := coord.Assign(context.Background(), "t1", room, Filters{})
	if err == nil {
		t.Fatal("expected the AdjustLoad error to propagate")
	}
}

func TestCoordinator_EnqueueDefaultsPriorityAndStampsTime(t *testing.T) {
	queue := NewQueue(time.Hour)
	coord := NewCoordinator(NewDirectory(&fakeSource{}, nil, false, false), queue, nil)

	coord.Enqueue("t1", "r1", model.QueueEntry{})

	pos, depth, ok := queue.Position("t1", "r1")
	if !ok || pos != 1 || depth != 1 {
		t.Fatalf("Position = %d, %d, %v, want 1, 1, true", pos, depth, ok)
	}
}

func TestCoordinator_ReleaseDecrementsLoadAndClearsQueue(t *testing.T) {
	local := &fakeSource{}
	dir := NewDirectory(local, nil, false, false)
	queue := NewQueue(time.Hour)
	queue.Enqueue(model.QueueEntry{TenantID: "t1", RoomID: "r1", EnqueuedAt: time.Now()})
	coord := NewCoordinator(dir, queue, nil)

	agent := &model.Agent{AgentID: "a1", Source: model.AgentSourceLocal}
	if err := coord.Release(context.Background(), "t1", "r1", agent); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if len(local.adjustCalls) != 1 {
		t.Errorf("expected AdjustLoad to be called once, got %d", len(local.adjustCalls))
	}
	if _, _, ok := queue.Position("t1", "r1"); ok {
		t.Error("expected the room removed from the queue by Release")
	}
}

func TestCoordinator_ReleaseWithNilAgentOnlyClearsQueue(t *testing.T) {
	local := &fakeSource{}
	dir := NewDirectory(local, nil, false, false)
	queue := NewQueue(time.Hour)
	queue.Enqueue(model.QueueEntry{TenantID: "t1", RoomID: "r1", EnqueuedAt: time.Now()})
	coord := NewCoordinator(dir, queue, nil)

	if err := coord.Release(context.Background(), "t1", "r1", nil); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if len(local.adjustCalls) != 0 {
		t.Error("expected AdjustLoad not to be called for a nil agent")
	}
}
