package fleet

import (
	"context"

	"fleetmind.ai/internal/protocol"
)

// stubTaskWorld satisfies WorldClient for navigator-level tests. Only
// TaskState carries behavior; the rest are inert.
type stubTaskWorld struct {
	status TaskStatus
	code   string
}

func (s *stubTaskWorld) AgentID() string { return "stub" }
func (s *stubTaskWorld) Name() string    { return "stub" }

func (s *stubTaskWorld) Obs() (protocol.ObsMsg, bool) { return protocol.ObsMsg{}, false }

func (s *stubTaskWorld) Say(context.Context, string) error           { return nil }
func (s *stubTaskWorld) Equip(context.Context, string, string) error { return nil }
func (s *stubTaskWorld) Consume(context.Context, string) error       { return nil }
func (s *stubTaskWorld) SleepAt(context.Context, Vec3i) error        { return nil }
func (s *stubTaskWorld) Attack(context.Context, string) error        { return nil }

func (s *stubTaskWorld) StartMove(context.Context, Vec3i, float64) (string, error) {
	return "t-move", nil
}
func (s *stubTaskWorld) StartFollow(context.Context, string, float64) (string, error) {
	return "t-follow", nil
}
func (s *stubTaskWorld) StartMine(context.Context, Vec3i) (string, error) {
	return "t-mine", nil
}
func (s *stubTaskWorld) StartCraft(context.Context, string, int) (string, error) {
	return "t-craft", nil
}

func (s *stubTaskWorld) StopTasks(context.Context) error { return nil }

func (s *stubTaskWorld) TaskState(string) (TaskStatus, string) { return s.status, s.code }

func (s *stubTaskWorld) AwaitTask(context.Context, string) (TaskStatus, string, error) {
	return s.status, s.code, nil
}

func (s *stubTaskWorld) Close() error { return nil }
