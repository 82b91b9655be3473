package fleettest

import (
	"testing"

	"fleetmind.ai/internal/fleet"
)

func putPeer(h *Harness, id, name string, pos fleet.Vec3i) {
	h.Roster.Put(fleet.Snapshot{ID: id, Name: name, Pos: pos, Connected: true})
	h.World.AddEntity(id, "AGENT", name, pos)
}

func TestFollowUnknownPeerRejected(t *testing.T) {
	h := NewHarness(t, "guard-1")
	h.ProvisionKit()
	h.Step()

	h.Submit(fleet.Directive{TaskID: "task-1", Category: "follow", TargetID: "ghost"})
	snap := h.Step()

	if snap.State != fleet.StateIdle {
		t.Fatalf("state = %s, want unchanged idle", snap.State)
	}
	if !snap.Goal.IsZero() {
		t.Fatalf("goal = %+v, want none for a rejected follow", snap.Goal)
	}
	if h.World.FollowSubmits != 0 {
		t.Fatalf("follow submits = %d, want 0", h.World.FollowSubmits)
	}
	if !h.SaidContaining("cannot follow") {
		t.Fatalf("no rejection message: %v", h.World.Says)
	}
}

func TestFollowSelfRejected(t *testing.T) {
	h := NewHarness(t, "guard-2")
	h.ProvisionKit()
	h.Step()

	h.Submit(fleet.Directive{TaskID: "task-1", Category: "follow", TargetID: "guard-2"})
	snap := h.Step()

	if snap.State != fleet.StateIdle || h.World.FollowSubmits != 0 {
		t.Fatalf("self-follow accepted: state=%s submits=%d", snap.State, h.World.FollowSubmits)
	}
}

func TestFollowKeepsDistance(t *testing.T) {
	h := NewHarness(t, "guard-3")
	h.ProvisionKit()
	h.Step()

	putPeer(h, "a-lead", "lead-1", fleet.Vec3i{20, 64, 0})
	h.Submit(fleet.Directive{TaskID: "task-1", Category: "follow", TargetID: "lead-1"})

	snap := h.Step()
	if snap.State != fleet.StateFollowing {
		t.Fatalf("state = %s, want following while beyond distance", snap.State)
	}
	if h.World.FollowSubmits != 1 {
		t.Fatalf("follow submits = %d, want 1", h.World.FollowSubmits)
	}
	if snap.Goal.Kind != fleet.GoalFollow || snap.Goal.EntityID != "a-lead" {
		t.Fatalf("goal = %+v, want follow a-lead", snap.Goal)
	}

	// Re-asserting the same follow target stays deduplicated.
	h.StepN(2)
	if h.World.FollowSubmits != 1 {
		t.Fatalf("follow submits = %d after re-asserts, want 1", h.World.FollowSubmits)
	}

	// Within range: transient following ends, goal cleared.
	h.World.SetPos(fleet.Vec3i{18, 64, 0})
	snap = h.Step()
	if snap.State != fleet.StateIdle {
		t.Fatalf("state = %s, want idle within follow distance", snap.State)
	}
	if !snap.Goal.IsZero() {
		t.Fatalf("goal = %+v, want cleared within distance", snap.Goal)
	}

	// Leader moves away again: the chase resumes.
	h.World.RemoveEntity("a-lead")
	putPeer(h, "a-lead", "lead-1", fleet.Vec3i{40, 64, 0})
	snap = h.Step()
	if snap.State != fleet.StateFollowing || h.World.FollowSubmits != 2 {
		t.Fatalf("chase did not resume: state=%s submits=%d", snap.State, h.World.FollowSubmits)
	}
}

func TestFollowTargetGoneCleansUp(t *testing.T) {
	h := NewHarness(t, "guard-4")
	h.ProvisionKit()
	h.Step()

	putPeer(h, "a-lead", "lead-1", fleet.Vec3i{20, 64, 0})
	h.Submit(fleet.Directive{TaskID: "task-1", Category: "follow", TargetID: "lead-1"})
	h.Step()

	h.Roster.Remove("a-lead")
	h.World.RemoveEntity("a-lead")

	snap := h.Step()
	if snap.State != fleet.StateIdle {
		t.Fatalf("state = %s, want idle after target vanished", snap.State)
	}
	if !snap.Goal.IsZero() {
		t.Fatalf("goal = %+v, want cleared after cleanup", snap.Goal)
	}
	if snap.TaskID != "" {
		t.Fatalf("follow directive still attached: %q", snap.TaskID)
	}
	if !h.SaidContaining("lost") {
		t.Fatalf("no stand-down message: %v", h.World.Says)
	}

	// Cleanup is terminal: later ticks do not resurrect the chase.
	h.StepN(2)
	if h.World.FollowSubmits != 1 {
		t.Fatalf("follow submits = %d after cleanup, want 1", h.World.FollowSubmits)
	}
}

func TestFollowGuardsAgainstAdjacentHostile(t *testing.T) {
	h := NewHarness(t, "guard-5")
	h.ProvisionKit()
	h.Step()

	putPeer(h, "a-lead", "lead-1", fleet.Vec3i{1, 64, 1})
	h.World.AddEntity("m-1", "MOB", "", fleet.Vec3i{1, 64, 0})
	h.Submit(fleet.Directive{TaskID: "task-1", Category: "follow", TargetID: "lead-1"})

	h.Step()
	if len(h.World.Attacked) != 1 || h.World.Attacked[0] != "m-1" {
		t.Fatalf("attacked = %v, want the adjacent hostile", h.World.Attacked)
	}
}
