package worldclient

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/protocol"
	"fleetmind.ai/internal/simworld"
	"fleetmind.ai/internal/transport/ws"
)

// startWorld runs a fast-ticking world behind a websocket endpoint.
func startWorld(t *testing.T) string {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	w := simworld.New(simworld.Config{TickRateHz: 50, DayTicks: 6000, ObsRadius: 16, Seed: 7}, cats, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(ws.NewServer(w, log.New(io.Discard, "", 0)).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func login(t *testing.T, url, name string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Login(ctx, url, name, Options{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitObs(t *testing.T, s *Session) protocol.ObsMsg {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if obs, ok := s.Obs(); ok {
			return obs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no observation frame for %s", s.Name())
	return protocol.ObsMsg{}
}

func TestLogin_HandshakeDeliversWelcomeAndObs(t *testing.T) {
	url := startWorld(t)
	s := login(t, url, "scout")

	if s.AgentID() == "" {
		t.Fatalf("missing agent id after login")
	}
	if s.Name() != "scout" {
		t.Fatalf("name: got %q want %q", s.Name(), "scout")
	}
	if got := s.WorldParams().TickRateHz; got != 50 {
		t.Fatalf("tick rate: got %d want %d", got, 50)
	}

	obs := waitObs(t, s)
	if obs.AgentID != s.AgentID() {
		t.Fatalf("obs agent: got %s want %s", obs.AgentID, s.AgentID())
	}
	if obs.Self.HP <= 0 {
		t.Fatalf("obs self hp: got %d", obs.Self.HP)
	}
	if obs.ProtocolVersion != protocol.Version {
		t.Fatalf("obs protocol version: got %q", obs.ProtocolVersion)
	}
}

func TestSession_InstantResultsCorrelateByRef(t *testing.T) {
	url := startWorld(t)
	s := login(t, url, "talker")
	waitObs(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Say(ctx, "anyone near the quarry?"); err != nil {
		t.Fatalf("say: %v", err)
	}

	// The world rejects an empty SAY; the rejection must come back as
	// an ActionError carrying the protocol code.
	err := s.Say(ctx, "")
	var ae *ActionError
	if !errors.As(err, &ae) {
		t.Fatalf("empty say: got %v want ActionError", err)
	}
	if ae.Code != protocol.ErrBadRequest {
		t.Fatalf("empty say code: got %s want %s", ae.Code, protocol.ErrBadRequest)
	}

	if err := s.Equip(ctx, "BREAD", ""); err != nil {
		t.Fatalf("equip starter bread: %v", err)
	}
	if err := s.Consume(ctx, "BREAD"); err != nil {
		t.Fatalf("consume bread: %v", err)
	}

	err = s.Attack(ctx, "ZZZ")
	if !errors.As(err, &ae) || ae.Code != protocol.ErrInvalidTarget {
		t.Fatalf("attack unknown target: got %v", err)
	}
}

func TestSession_TaskLifecycleToDone(t *testing.T) {
	url := startWorld(t)
	s := login(t, url, "runner")
	obs := waitObs(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Destination already inside tolerance: accepted and completed
	// within one world step, no terrain in play.
	dest := fleet.Vec3i{obs.Self.Pos[0] + 1, obs.Self.Pos[1], obs.Self.Pos[2]}
	taskID, err := s.StartMove(ctx, dest, 1)
	if err != nil {
		t.Fatalf("start move: %v", err)
	}
	if !strings.HasPrefix(taskID, "T") {
		t.Fatalf("task id: got %q", taskID)
	}

	status, code, err := s.AwaitTask(ctx, taskID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if status != fleet.TaskDone || code != "" {
		t.Fatalf("task end: status=%v code=%q", status, code)
	}
	if got, _ := s.TaskState(taskID); got != fleet.TaskDone {
		t.Fatalf("task state after done: %v", got)
	}
}

func TestSession_TaskFailurePropagatesCode(t *testing.T) {
	url := startWorld(t)
	s := login(t, url, "miner")
	obs := waitObs(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A block far out of reach: the task is accepted, then fails on the
	// first work tick.
	far := fleet.Vec3i{obs.Self.Pos[0] + 30, obs.Self.Pos[1], obs.Self.Pos[2]}
	taskID, err := s.StartMine(ctx, far)
	if err != nil {
		t.Fatalf("start mine: %v", err)
	}
	status, code, err := s.AwaitTask(ctx, taskID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if status != fleet.TaskFailed {
		t.Fatalf("status: got %v want %v", status, fleet.TaskFailed)
	}
	if code != protocol.ErrInvalidTarget {
		t.Fatalf("code: got %q want %q", code, protocol.ErrInvalidTarget)
	}
}

func TestSession_StopTasksForgetsPending(t *testing.T) {
	url := startWorld(t)
	leader := login(t, url, "leader")
	follower := login(t, url, "follower")
	waitObs(t, leader)
	waitObs(t, follower)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A follow with slack distance holds forever, so the task stays
	// pending until stopped.
	taskID, err := follower.StartFollow(ctx, leader.AgentID(), 10)
	if err != nil {
		t.Fatalf("start follow: %v", err)
	}
	if got, _ := follower.TaskState(taskID); got != fleet.TaskPending {
		t.Fatalf("state before stop: %v", got)
	}

	if err := follower.StopTasks(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got, _ := follower.TaskState(taskID); got != fleet.TaskUnknown {
		t.Fatalf("state after stop: got %v want unknown", got)
	}
}

func TestSession_CloseUnblocksWaiters(t *testing.T) {
	url := startWorld(t)
	s := login(t, url, "quitter")
	waitObs(t, s)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := s.AwaitTask(ctx, "T000099")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("await should fail once the session closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("await did not unblock on close")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("Done should be closed")
	}
}
