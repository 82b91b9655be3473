package fleettest

import (
	"context"
	"io"
	"log"
	"testing"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/tuning"
)

type fleetMember struct {
	world *FakeWorld
	agent *fleet.Agent
}

// newFleet registers one agent per name against a shared Manager, each
// on its own world double, provisioned past bootstrap.
func newFleet(t *testing.T, names ...string) (*fleet.Manager, map[string]*fleetMember) {
	t.Helper()
	cats := LoadCatalogs(t)
	mgr := fleet.NewManager(log.New(io.Discard, "", 0))

	members := make(map[string]*fleetMember, len(names))
	for _, name := range names {
		w := NewFakeWorld("a-"+name, name, cats)
		w.AddInventory(cats.Progression.RawItem, 20)
		w.AddInventory(cats.Progression.StationItem, 1)
		for _, tool := range cats.Progression.Tools {
			w.AddInventory(tool, 1)
		}
		a, err := fleet.NewAgent(fleet.AgentConfig{
			Name:     name,
			World:    w,
			Roster:   mgr,
			Tuning:   tuning.Defaults(),
			Catalogs: cats,
			Logger:   log.New(io.Discard, "", 0),
			Seed:     1,
		})
		if err != nil {
			t.Fatalf("new agent %s: %v", name, err)
		}
		mgr.Register(a)
		members[name] = &fleetMember{world: w, agent: a}
	}
	for _, m := range members {
		m.agent.StepOnce(context.Background())
	}
	return mgr, members
}

func stepAll(members map[string]*fleetMember) {
	for _, m := range members {
		m.agent.StepOnce(context.Background())
	}
}

func TestRegisterLinksTeamsBothWays(t *testing.T) {
	mgr, members := newFleet(t, "alpha", "bravo", "charlie")

	if mgr.Size() != 3 {
		t.Fatalf("size = %d, want 3", mgr.Size())
	}
	wantTeam := map[string][]string{
		"alpha":   {"a-bravo", "a-charlie"},
		"bravo":   {"a-alpha", "a-charlie"},
		"charlie": {"a-alpha", "a-bravo"},
	}
	for name, want := range wantTeam {
		got := members[name].agent.Snapshot().Team
		if len(got) != len(want) {
			t.Fatalf("%s team = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s team = %v, want %v", name, got, want)
			}
		}
	}

	mgr.Unregister("a-bravo")
	stepAll(members)
	if got := members["alpha"].agent.Snapshot().Team; len(got) != 1 || got[0] != "a-charlie" {
		t.Fatalf("alpha team after departure = %v, want [a-charlie]", got)
	}
	if _, ok := mgr.Get("bravo"); ok {
		t.Fatal("departed agent still resolvable")
	}
}

func TestLookupResolvesIDAndName(t *testing.T) {
	mgr, _ := newFleet(t, "alpha", "bravo")

	byID, ok := mgr.Lookup("a-alpha")
	if !ok || byID.Name != "alpha" {
		t.Fatalf("lookup by id: %+v ok=%v", byID, ok)
	}
	byName, ok := mgr.Lookup("bravo")
	if !ok || byName.ID != "a-bravo" {
		t.Fatalf("lookup by name: %+v ok=%v", byName, ok)
	}
	if _, ok := mgr.Lookup("delta"); ok {
		t.Fatal("unknown ref resolved")
	}

	list := mgr.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "bravo" {
		t.Fatalf("list = %+v, want name order", list)
	}
}

func TestBroadcastFansOutWithinOneTick(t *testing.T) {
	mgr, members := newFleet(t, "alpha", "bravo", "charlie")
	for _, m := range members {
		m.world.SetBlock(fleet.Vec3i{3, 64, 1}, "TREE")
	}

	accepted := mgr.Broadcast(fleet.Directive{TaskID: "task-wood", Category: "gather", Item: "LOG"})
	if accepted != 3 {
		t.Fatalf("accepted = %d, want 3", accepted)
	}

	stepAll(members)
	for name, m := range members {
		snap := m.agent.Snapshot()
		if snap.State != fleet.StateGathering {
			t.Fatalf("%s state = %s, want gathering after one tick", name, snap.State)
		}
		if snap.TaskID != "task-wood" {
			t.Fatalf("%s task = %q, want task-wood", name, snap.TaskID)
		}
		if m.world.MineSubmits != 1 {
			t.Fatalf("%s mine submits = %d, want 1", name, m.world.MineSubmits)
		}
	}
}

func TestFollowResolvesThroughManagerRoster(t *testing.T) {
	_, members := newFleet(t, "lead", "scout")
	lead, scout := members["lead"], members["scout"]

	lead.world.SetPos(fleet.Vec3i{40, 64, 0})
	lead.agent.StepOnce(context.Background())

	if err := scout.agent.Submit(fleet.Directive{TaskID: "task-f", Category: "follow", TargetID: "lead"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	scout.agent.StepOnce(context.Background())
	snap := scout.agent.Snapshot()

	if snap.State != fleet.StateFollowing {
		t.Fatalf("state = %s, want following", snap.State)
	}
	if snap.Goal.Kind != fleet.GoalFollow || snap.Goal.EntityID != "a-lead" {
		t.Fatalf("goal = %+v, want follow a-lead", snap.Goal)
	}
	if scout.world.FollowSubmits != 1 {
		t.Fatalf("follow submits = %d, want 1", scout.world.FollowSubmits)
	}
}
