package orchestrator

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/fleet/fleettest"
	"fleetmind.ai/internal/fleet/tuning"
)

type member struct {
	world *fleettest.FakeWorld
	agent *fleet.Agent
}

// buildFleet spins up one provisioned agent per name on a shared
// manager and ticks each once so bootstrap is behind them.
func buildFleet(t *testing.T, names ...string) (*fleet.Manager, map[string]*member, *catalogs.Catalogs) {
	t.Helper()
	cats := fleettest.LoadCatalogs(t)
	mgr := fleet.NewManager(log.New(io.Discard, "", 0))
	members := make(map[string]*member, len(names))
	for _, name := range names {
		w := fleettest.NewFakeWorld("a-"+name, name, cats)
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
		members[name] = &member{world: w, agent: a}
	}
	tickAll(members)
	return mgr, members, cats
}

func tickAll(members map[string]*member) {
	for _, m := range members {
		m.agent.StepOnce(context.Background())
	}
}

func newOrch(t *testing.T, mgr *fleet.Manager, cats *catalogs.Catalogs, tune tuning.Tuning) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Fleet:    mgr,
		Catalogs: cats,
		Tuning:   tune,
		Logger:   log.New(io.Discard, "", 0),
		ChatLog:  fleet.NewChatLog(64, nil),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)
	return o
}

func TestAllCollectWoodReachesEveryAgentInOneTick(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha", "bravo", "charlie")
	for _, m := range members {
		m.world.SetBlock(fleet.Vec3i{4, 64, 2}, "TREE")
	}
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "operator-1", "ALL: collect wood")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.TaskID == "" || res.Accepted != 3 {
		t.Fatalf("result = %+v, want a task accepted by 3 agents", res)
	}
	if len(o.Tasks()) != 1 {
		t.Fatalf("tasks = %d, want exactly one", len(o.Tasks()))
	}
	snap, ok := o.Task(res.TaskID)
	if !ok || snap.Status != StatusRunning || len(snap.Assigned) != 3 {
		t.Fatalf("task = %+v, want running with 3 assigned", snap)
	}

	tickAll(members)
	for name, m := range members {
		s := m.agent.Snapshot()
		if s.State != fleet.StateGathering {
			t.Fatalf("%s state = %s, want gathering within one tick", name, s.State)
		}
		if s.TaskID != res.TaskID {
			t.Fatalf("%s task = %q, want %q", name, s.TaskID, res.TaskID)
		}
	}

	snap, _ = o.Recompute(res.TaskID)
	if snap.Progress.Overall <= 0 || snap.Progress.Overall > 100 {
		t.Fatalf("overall = %v, want inside (0,100]", snap.Progress.Overall)
	}
}

func TestProgressMonotonicUntilCompleted(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha", "bravo")
	for _, m := range members {
		m.world.AddInventory(cats.Progression.RawItem, -20)
		m.world.AutoMine = true
		m.world.SetBlock(fleet.Vec3i{2, 64, 2}, "TREE")
		m.world.SetBlock(fleet.Vec3i{4, 64, 2}, "TREE")
		m.world.SetBlock(fleet.Vec3i{6, 64, 2}, "TREE")
	}
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "ops", "everyone gather 3 wood")
	if err != nil {
		t.Fatalf("command: %v", err)
	}

	var last float64
	for round := 0; round < 4; round++ {
		tickAll(members)
		snap, ok := o.Recompute(res.TaskID)
		if !ok {
			t.Fatal("task vanished")
		}
		got := snap.Progress.Overall
		if got < last {
			t.Fatalf("round %d: overall regressed %v -> %v", round, last, got)
		}
		if got < 0 || got > 100 {
			t.Fatalf("round %d: overall = %v outside [0,100]", round, got)
		}
		last = got
	}

	snap, _ := o.Task(res.TaskID)
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", snap.Status)
	}
	if snap.Progress.Overall != 100 {
		t.Fatalf("overall = %v, want 100 at completion", snap.Progress.Overall)
	}
	if got := o.Stats(); got.TasksCompleted != 1 || got.TasksRunning != 0 {
		t.Fatalf("stats = %+v, want one completed and none running", got)
	}
}

func TestFailureKeepsLastProgress(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha")
	m := members["alpha"]
	m.world.AddInventory(cats.Progression.RawItem, -20)
	m.world.AutoMine = true
	m.world.SetBlock(fleet.Vec3i{2, 64, 2}, "TREE")
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "ops", "alpha collect 4 wood")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	tickAll(members)
	snap, _ := o.Recompute(res.TaskID)
	mid := snap.Progress.Overall
	if mid <= 0 {
		t.Fatalf("mid progress = %v, want partial progress", mid)
	}

	mgr.Unregister("a-alpha")
	snap, _ = o.Recompute(res.TaskID)
	if snap.Status != StatusFailed {
		t.Fatalf("status = %s, want failed once every agent is gone", snap.Status)
	}
	if snap.Progress.Overall != mid {
		t.Fatalf("overall = %v, want last value %v retained", snap.Progress.Overall, mid)
	}

	// Terminal is terminal: nothing moves afterward.
	again, _ := o.Recompute(res.TaskID)
	if again.Status != StatusFailed || again.Progress.Overall != mid {
		t.Fatalf("task moved after failure: %+v", again)
	}
	if got := o.Stats(); got.TasksFailed != 1 {
		t.Fatalf("stats = %+v, want one failure", got)
	}
}

func TestMoveTaskCoordinateProgress(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha")
	m := members["alpha"]
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "ops", "alpha go to the forest")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	tickAll(members)
	if m.world.MoveSubmits != 1 {
		t.Fatalf("move submits = %d, want 1", m.world.MoveSubmits)
	}
	first, _ := o.Recompute(res.TaskID)
	if !first.Progress.HasCoordinate {
		t.Fatalf("progress = %+v, want a coordinate dimension", first.Progress)
	}

	m.world.SetPos(fleet.Vec3i{20, 64, 12})
	tickAll(members)
	mid, _ := o.Recompute(res.TaskID)
	if mid.Progress.Coordinate <= first.Progress.Coordinate {
		t.Fatalf("coordinate did not advance: %v -> %v", first.Progress.Coordinate, mid.Progress.Coordinate)
	}
	if mid.Progress.Overall < first.Progress.Overall {
		t.Fatalf("overall regressed: %v -> %v", first.Progress.Overall, mid.Progress.Overall)
	}

	m.world.SetPos(fleet.Vec3i{40, 64, 25})
	tickAll(members)
	done, _ := o.Recompute(res.TaskID)
	if done.Status != StatusCompleted || done.Progress.Overall != 100 {
		t.Fatalf("task = %+v, want completed at 100", done)
	}
}

func TestFollowCommandSparesTheTarget(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha", "bravo")
	members["alpha"].world.SetPos(fleet.Vec3i{30, 64, 0})
	members["alpha"].agent.StepOnce(context.Background())
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "ops", "bravo follow alpha")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.Accepted != 1 {
		t.Fatalf("accepted = %d, want only the follower", res.Accepted)
	}
	snap, _ := o.Task(res.TaskID)
	if len(snap.Assigned) != 1 || snap.Assigned[0] != "a-bravo" {
		t.Fatalf("assigned = %v, want [a-bravo]", snap.Assigned)
	}

	tickAll(members)
	s := members["bravo"].agent.Snapshot()
	if s.State != fleet.StateFollowing {
		t.Fatalf("bravo state = %s, want following", s.State)
	}
	if members["bravo"].world.FollowSubmits != 1 {
		t.Fatalf("follow submits = %d, want 1", members["bravo"].world.FollowSubmits)
	}
	if members["alpha"].agent.Snapshot().State == fleet.StateFollowing {
		t.Fatal("target agent was told to follow itself")
	}
}

func TestPrivilegedCommandGating(t *testing.T) {
	mgr, _, cats := buildFleet(t, "alpha")

	var audits []string
	privCalls := 0
	o, err := New(Config{
		Fleet:    mgr,
		Catalogs: cats,
		Tuning:   tuning.Defaults(),
		Logger:   log.New(io.Discard, "", 0),
		Audit: func(principal, action, detail string) {
			audits = append(audits, principal+" "+action)
		},
		Privileged: func(ctx context.Context, principal string, in Intent) (string, error) {
			privCalls++
			return "winding the fleet down", nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	defer o.Close()

	if _, err := o.Command(context.Background(), "mallory", "shutdown the fleet"); err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if privCalls != 0 || len(o.Tasks()) != 0 {
		t.Fatalf("denied command leaked: calls=%d tasks=%d", privCalls, len(o.Tasks()))
	}
	if got := o.Stats(); got.CommandsRejected != 1 {
		t.Fatalf("stats = %+v, want one rejection", got)
	}

	res, err := o.Command(context.Background(), "ops", "shutdown the fleet")
	if err != nil {
		t.Fatalf("authorized command: %v", err)
	}
	if privCalls != 1 || res.Report != "winding the fleet down" {
		t.Fatalf("handler not used: calls=%d res=%+v", privCalls, res)
	}
	if len(o.Tasks()) != 0 {
		t.Fatal("privileged command created a task")
	}

	joined := strings.Join(audits, "\n")
	if !strings.Contains(joined, "mallory command.rejected") || !strings.Contains(joined, "ops privileged.shutdown") {
		t.Fatalf("audit trail incomplete:\n%s", joined)
	}
}

func TestStatusReportCreatesNoTask(t *testing.T) {
	mgr, _, cats := buildFleet(t, "alpha", "bravo")
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "anyone", "status")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	if res.TaskID != "" || len(o.Tasks()) != 0 {
		t.Fatal("status query created a task")
	}
	if !strings.Contains(res.Report, "2 agents") {
		t.Fatalf("report missing head line:\n%s", res.Report)
	}
	for _, name := range []string{"alpha:", "bravo:"} {
		if !strings.Contains(res.Report, name) {
			t.Fatalf("report missing %s:\n%s", name, res.Report)
		}
	}
}

func TestUnparsableCommandRejected(t *testing.T) {
	mgr, _, cats := buildFleet(t, "alpha")
	o := newOrch(t, mgr, cats, tuning.Defaults())

	if _, err := o.Command(context.Background(), "ops", "please dance"); err != ErrNoCategory {
		t.Fatalf("err = %v, want ErrNoCategory", err)
	}
	if _, err := o.Command(context.Background(), "ops", "   "); err != ErrEmptyCommand {
		t.Fatalf("err = %v, want ErrEmptyCommand", err)
	}
	if len(o.Tasks()) != 0 {
		t.Fatal("rejected commands created tasks")
	}
}

func TestDispatchToEmptyFleetFailsTheTask(t *testing.T) {
	mgr, _, cats := buildFleet(t, "alpha")
	mgr.Unregister("a-alpha")
	o := newOrch(t, mgr, cats, tuning.Defaults())

	res, err := o.Command(context.Background(), "ops", "all collect wood")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	snap, ok := o.Task(res.TaskID)
	if !ok || snap.Status != StatusFailed {
		t.Fatalf("task = %+v, want immediate failure", snap)
	}
	if res.Accepted != 0 {
		t.Fatalf("accepted = %d, want 0", res.Accepted)
	}
}

func TestAdminSetOperations(t *testing.T) {
	mgr, _, cats := buildFleet(t, "alpha")
	o := newOrch(t, mgr, cats, tuning.Defaults())

	if err := o.AddAdmin("mallory", "eve"); err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if err := o.AddAdmin("ops", "eve"); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := o.Admins()
	if len(got) != 2 || got[0] != "eve" || got[1] != "ops" {
		t.Fatalf("admins = %v, want [eve ops]", got)
	}
	if err := o.RemoveAdmin("eve", "ops"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := o.RemoveAdmin("eve", "eve"); err == nil {
		t.Fatal("removed the last admin")
	}
	if err := o.RemoveAdmin("ghost", "eve"); err != ErrUnauthorized {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestProgressTimerDrivesCompletion(t *testing.T) {
	mgr, members, cats := buildFleet(t, "alpha")
	tune := tuning.Defaults()
	tune.ProgressIntervalMs = 10
	o := newOrch(t, mgr, cats, tune)

	// The agent already holds 20 logs, so the first tick finishes the
	// order and the timer alone must notice and complete the task.
	res, err := o.Command(context.Background(), "ops", "alpha collect 5 wood")
	if err != nil {
		t.Fatalf("command: %v", err)
	}
	tickAll(members)

	deadline := time.After(2 * time.Second)
	for {
		snap, _ := o.Task(res.TaskID)
		if snap.Status == StatusCompleted {
			if snap.Progress.Overall != 100 {
				t.Fatalf("overall = %v, want 100", snap.Progress.Overall)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never completed by timer, status %s", snap.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
