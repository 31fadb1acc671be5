package agents

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

func TestSelect_NoCandidates(t *testing.T) {
	agent, ok := Select(nil, SelectOptions{})
	if ok || agent != nil {
		t.Fatalf("expected no winner for empty candidates, got %+v", agent)
	}
}

func TestSelect_PrefersLowerLoad(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "a1", MaxConcurrent: 4, CurrentLoad: 3},
		{AgentID: "a2", MaxConcurrent: 4, CurrentLoad: 1},
	}
	winner, ok := Select(candidates, SelectOptions{})
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.AgentID != "a2" {
		t.Errorf("winner = %s, want a2 (lowest load ratio)", winner.AgentID)
	}
}

func TestSelect_SkillMatchesOutweighLoad(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "generalist", MaxConcurrent: 4, CurrentLoad: 0},
		{AgentID: "specialist", MaxConcurrent: 4, CurrentLoad: 1, Skills: []string{"billing", "refunds"}},
	}
	winner, ok := Select(candidates, SelectOptions{RequiredSkills: []string{"billing", "refunds"}})
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.AgentID != "specialist" {
		t.Errorf("winner = %s, want specialist (2 skill matches = +40 outweighs load gap)", winner.AgentID)
	}
}

func TestSelect_DepartmentMatchBreaksTie(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "a1", MaxConcurrent: 4, CurrentLoad: 0, Department: "sales"},
		{AgentID: "a2", MaxConcurrent: 4, CurrentLoad: 0, Department: "support"},
	}
	winner, ok := Select(candidates, SelectOptions{Department: "support"})
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.AgentID != "a2" {
		t.Errorf("winner = %s, want a2 (department match)", winner.AgentID)
	}
}

func TestSelect_PreferLocalBreaksEqualScore(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "ext1", Source: model.AgentSourceExternal, MaxConcurrent: 4, CurrentLoad: 0},
		{AgentID: "loc1", Source: model.AgentSourceLocal, MaxConcurrent: 4, CurrentLoad: 0},
	}
	winner, ok := Select(candidates, SelectOptions{PreferLocal: true})
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.AgentID != "loc1" {
		t.Errorf("winner = %s, want loc1 (preferLocal bonus)", winner.AgentID)
	}
}

func TestSelect_TieBreaksByLoadThenAgentID(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "zzz", MaxConcurrent: 4, CurrentLoad: 1},
		{AgentID: "aaa", MaxConcurrent: 4, CurrentLoad: 1},
	}
	winner, ok := Select(candidates, SelectOptions{})
	if !ok {
		t.Fatal("expected a winner")
	}
	if winner.AgentID != "aaa" {
		t.Errorf("winner = %s, want aaa (equal load, lexically smallest agent_id)", winner.AgentID)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	candidates := []model.Agent{
		{AgentID: "a1", MaxConcurrent: 4, CurrentLoad: 2, Skills: []string{"billing"}},
		{AgentID: "a2", MaxConcurrent: 4, CurrentLoad: 1},
	}
	opts := SelectOptions{RequiredSkills: []string{"billing"}}
	first, _ := Select(candidates, opts)
	second, _ := Select(candidates, opts)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Select is not deterministic: %+v vs %+v", first, second)
	}
}

func newEntry(tenant, room string, priority model.Priority, enqueuedAt time.Time) model.QueueEntry {
	return model.QueueEntry{
		TenantID:   tenant,
		RoomID:     room,
		Priority:   priority,
		EnqueuedAt: enqueuedAt,
	}
}

func TestQueue_DequeueOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue(time.Hour)
	base := time.Now()
	q.Enqueue(newEntry("t1", "r1", model.PriorityNormal, base))
	q.Enqueue(newEntry("t1", "r2", model.PriorityVIP, base.Add(time.Second)))
	q.Enqueue(newEntry("t1", "r3", model.PriorityHigh, base.Add(2*time.Second)))

	first, ok := q.Dequeue("t1")
	if !ok || first.RoomID != "r2" {
		t.Fatalf("expected VIP room r2 first, got %+v ok=%v", first, ok)
	}
	second, ok := q.Dequeue("t1")
	if !ok || second.RoomID != "r3" {
		t.Fatalf("expected HIGH room r3 second, got %+v ok=%v", second, ok)
	}
	third, ok := q.Dequeue("t1")
	if !ok || third.RoomID != "r1" {
		t.Fatalf("expected NORMAL room r1 third, got %+v ok=%v", third, ok)
	}
	if _, ok := q.Dequeue("t1"); ok {
		t.Error("expected empty queue after 3 dequeues")
	}
}

func TestQueue_EnqueueReplacesExistingRoomEntry(t *testing.T) {
	q := NewQueue(time.Hour)
	base := time.Now()
	q.Enqueue(newEntry("t1", "r1", model.PriorityLow, base))
	q.Enqueue(newEntry("t1", "r1", model.PriorityVIP, base))

	if got := q.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (re-enqueue should replace, not duplicate)", got)
	}
	entry, ok := q.Dequeue("t1")
	if !ok || entry.Priority != model.PriorityVIP {
		t.Errorf("expected replaced entry with VIP priority, got %+v", entry)
	}
}

func TestQueue_PositionAndDepthScopedPerTenant(t *testing.T) {
	q := NewQueue(time.Hour)
	base := time.Now()
	q.Enqueue(newEntry("t1", "r1", model.PriorityNormal, base))
	q.Enqueue(newEntry("t1", "r2", model.PriorityNormal, base.Add(time.Second)))
	q.Enqueue(newEntry("t2", "r3", model.PriorityVIP, base))

	pos, depth, ok := q.Position("t1", "r2")
	if !ok || pos != 2 || depth != 2 {
		t.Errorf("Position(t1, r2) = %d, %d, %v, want 2, 2, true", pos, depth, ok)
	}
	pos, depth, ok = q.Position("t2", "r3")
	if !ok || pos != 1 || depth != 1 {
		t.Errorf("Position(t2, r3) = %d, %d, %v, want 1, 1, true", pos, depth, ok)
	}
	if _, _, ok := q.Position("t1", "does-not-exist"); ok {
		t.Error("expected ok=false for unqueued room")
	}
}

func TestQueue_EstimatedWaitScalesWithPosition(t *testing.T) {
	q := NewQueue(time.Hour)
	base := time.Now()
	q.Enqueue(newEntry("t1", "r1", model.PriorityNormal, base))
	q.Enqueue(newEntry("t1", "r2", model.PriorityNormal, base.Add(time.Second)))

	wait, ok := q.EstimatedWait("t1", "r2", 5*time.Minute)
	if !ok || wait != 10*time.Minute {
		t.Errorf("EstimatedWait = %v, %v, want 10m, true", wait, ok)
	}
}

func TestQueue_RemoveDropsEntry(t *testing.T) {
	q := NewQueue(time.Hour)
	q.Enqueue(newEntry("t1", "r1", model.PriorityNormal, time.Now()))
	q.Remove("t1", "r1")
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after Remove", q.Len())
	}
}

func TestQueue_SweepDropsStaleEntries(t *testing.T) {
	q := NewQueue(10 * time.Minute)
	now := time.Now()
	q.Enqueue(newEntry("t1", "stale", model.PriorityNormal, now.Add(-20*time.Minute)))
	q.Enqueue(newEntry("t1", "fresh", model.PriorityNormal, now))

	dropped := q.Sweep(context.Background())
	if len(dropped) != 1 || dropped[0].RoomID != "stale" {
		t.Fatalf("Sweep() dropped = %+v, want just the stale entry", dropped)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 remaining", q.Len())
	}
	if _, _, ok := q.Position("t1", "fresh"); !ok {
		t.Error("expected fresh entry to survive Sweep")
	}
}
