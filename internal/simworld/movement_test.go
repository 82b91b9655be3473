package simworld

import (
	"io"
	"log"
	"testing"

	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/protocol"
)

func newMovementWorld(t *testing.T) *World {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	w := New(Config{TickRateHz: 10, DayTicks: 6000, ObsRadius: 16, Seed: 42}, cats, log.New(io.Discard, "", 0))
	// Predictable paths: drop the scattered trees and beds.
	w.terrain.blocks = map[Vec3i]string{}
	return w
}

func joinOne(t *testing.T, w *World, name string) *Agent {
	t.Helper()
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: name, Resp: resp}}, nil, nil)
	a := w.agents[(<-resp).Welcome.AgentID]
	if a == nil {
		t.Fatalf("missing agent %s", name)
	}
	return a
}

func sendTask(w *World, a *Agent, tr protocol.TaskReq) {
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            w.tick.Load(),
		AgentID:         a.ID,
		Tasks:           []protocol.TaskReq{tr},
	}
	w.StepOnce(nil, nil, []ActionEnvelope{{AgentID: a.ID, Act: act}})
}

func scanTaskEvent(a *Agent, evType string) protocol.Event {
	for _, e := range a.events {
		if e["type"] == evType {
			return e
		}
	}
	return nil
}

func TestTask_MoveTo_ArrivesWithinTolerance(t *testing.T) {
	w := newMovementWorld(t)
	a := joinOne(t, w, "walker")

	target := Vec3i{a.Pos[0] + 6, a.Pos[1], a.Pos[2]}
	sendTask(w, a, protocol.TaskReq{ID: "R1", Type: "MOVE_TO", Target: [3]int(target), Tolerance: 2})

	arrived := false
	for i := 0; i < 20; i++ {
		if scanTaskEvent(a, "TASK_DONE") != nil {
			arrived = true
			break
		}
		w.StepOnce(nil, nil, nil)
	}
	if !arrived {
		t.Fatalf("MOVE_TO did not finish, pos=%v", a.Pos)
	}
	if d := manhattanXZ(a.Pos, target); d > 2 {
		t.Fatalf("final distance %d exceeds tolerance", d)
	}
	// Tolerance 2 means the walk stops at the edge, not on the block.
	if a.Pos == target {
		t.Fatalf("expected stop short of target, got exact arrival")
	}
	if a.MoveTask != nil {
		t.Fatalf("movement slot should be free after arrival")
	}
}

func TestTask_MoveTo_SidestepsSolidBlock(t *testing.T) {
	w := newMovementWorld(t)
	a := joinOne(t, w, "detour")

	start := a.Pos
	blocked := Vec3i{start[0] + 1, start[1], start[2]}
	w.terrain.SetBlock(blocked, "TREE")
	target := Vec3i{start[0] + 3, start[1], start[2] + 3}

	sendTask(w, a, protocol.TaskReq{ID: "R1", Type: "MOVE_TO", Target: [3]int(target)})

	// X is preferred but blocked, so the first step must go on Z.
	if a.Pos != (Vec3i{start[0], start[1], start[2] + 1}) {
		t.Fatalf("first step: got %v want %v", a.Pos, Vec3i{start[0], start[1], start[2] + 1})
	}

	for i := 0; i < 20 && scanTaskEvent(a, "TASK_DONE") == nil; i++ {
		w.StepOnce(nil, nil, nil)
	}
	if scanTaskEvent(a, "TASK_DONE") == nil {
		t.Fatalf("expected arrival despite the obstacle, pos=%v", a.Pos)
	}
	if d := manhattanXZ(a.Pos, target); d > 1 {
		t.Fatalf("final distance %d want <=1", d)
	}
}

func TestTask_MoveTo_FailsWhenPathBlocked(t *testing.T) {
	w := newMovementWorld(t)
	a := joinOne(t, w, "stuck")

	// Target is straight down the X axis and the next block is solid:
	// no Z component to sidestep on, so the walk is stuck immediately.
	w.terrain.SetBlock(Vec3i{a.Pos[0] + 1, a.Pos[1], a.Pos[2]}, "TREE")
	target := Vec3i{a.Pos[0] + 4, a.Pos[1], a.Pos[2]}

	sendTask(w, a, protocol.TaskReq{ID: "R1", Type: "MOVE_TO", Target: [3]int(target)})

	ev := scanTaskEvent(a, "TASK_FAIL")
	if ev == nil {
		t.Fatalf("expected TASK_FAIL for blocked path")
	}
	if ev["code"] != protocol.ErrConflict {
		t.Fatalf("fail code: got %v want %s", ev["code"], protocol.ErrConflict)
	}
	if a.MoveTask != nil {
		t.Fatalf("movement slot should be freed on failure")
	}
}

func TestTask_MoveTo_SecondRequestConflicts(t *testing.T) {
	w := newMovementWorld(t)
	a := joinOne(t, w, "eager")

	sendTask(w, a, protocol.TaskReq{ID: "R1", Type: "MOVE_TO", Target: [3]int{30, 1, 30}})
	if a.MoveTask == nil {
		t.Fatalf("expected first MOVE_TO accepted")
	}

	a.events = nil
	sendTask(w, a, protocol.TaskReq{ID: "R2", Type: "MOVE_TO", Target: [3]int{-30, 1, -30}})

	found := false
	for _, e := range a.events {
		if e["type"] == "ACTION_RESULT" && e["ref"] == "R2" {
			if e["ok"] != false || e["code"] != protocol.ErrConflict {
				t.Fatalf("second MOVE_TO: got %v", e)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("expected conflict result for second MOVE_TO")
	}
}

func TestTask_Follow_HoldsDistance(t *testing.T) {
	w := newMovementWorld(t)
	leader := joinOne(t, w, "leader")
	follower := joinOne(t, w, "follower")

	sendTask(w, follower, protocol.TaskReq{ID: "R1", Type: "FOLLOW", TargetID: leader.ID, Distance: 2})

	for i := 0; i < 10; i++ {
		w.StepOnce(nil, nil, nil)
	}
	if d := manhattanXZ(follower.Pos, leader.Pos); d > 2 {
		t.Fatalf("follower distance %d want <=2", d)
	}
	if follower.MoveTask == nil || follower.MoveTask.Kind != "FOLLOW" {
		t.Fatalf("follow task should stay alive while holding")
	}

	// Holding: no drift while the leader stands still.
	held := follower.Pos
	w.StepOnce(nil, nil, nil)
	w.StepOnce(nil, nil, nil)
	if follower.Pos != held {
		t.Fatalf("follower drifted while holding: %v -> %v", held, follower.Pos)
	}

	// Leader walks off; follower resumes.
	leader.Pos = Vec3i{leader.Pos[0] + 8, leader.Pos[1], leader.Pos[2]}
	w.StepOnce(nil, nil, nil)
	if follower.Pos == held {
		t.Fatalf("follower did not resume after leader moved")
	}
}

func TestTask_Follow_TargetGoneFails(t *testing.T) {
	w := newMovementWorld(t)
	leader := joinOne(t, w, "leader")
	follower := joinOne(t, w, "follower")

	sendTask(w, follower, protocol.TaskReq{ID: "R1", Type: "FOLLOW", TargetID: leader.ID})
	if follower.MoveTask == nil {
		t.Fatalf("expected FOLLOW accepted")
	}

	follower.events = nil
	w.StepOnce(nil, []string{leader.ID}, nil)

	ev := scanTaskEvent(follower, "TASK_FAIL")
	if ev == nil {
		t.Fatalf("expected TASK_FAIL after target left")
	}
	if ev["code"] != protocol.ErrInvalidTarget {
		t.Fatalf("fail code: got %v want %s", ev["code"], protocol.ErrInvalidTarget)
	}
	if follower.MoveTask != nil {
		t.Fatalf("movement slot should be freed")
	}
}

func TestTask_Follow_UnknownTargetRejected(t *testing.T) {
	w := newMovementWorld(t)
	a := joinOne(t, w, "lost")

	a.events = nil
	sendTask(w, a, protocol.TaskReq{ID: "R1", Type: "FOLLOW", TargetID: "A99"})

	found := false
	for _, e := range a.events {
		if e["type"] == "ACTION_RESULT" && e["ref"] == "R1" && e["code"] == protocol.ErrInvalidTarget {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected E_INVALID_TARGET for unknown follow target")
	}
	if a.MoveTask != nil {
		t.Fatalf("no task should be created for unknown target")
	}
}
