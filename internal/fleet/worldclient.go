package fleet

import (
	"context"

	"fleetmind.ai/internal/protocol"
)

// TaskStatus is the lifecycle of a world task started by an agent.
type TaskStatus string

const (
	TaskUnknown TaskStatus = ""
	TaskPending TaskStatus = "PENDING"
	TaskDone    TaskStatus = "DONE"
	TaskFailed  TaskStatus = "FAILED"
)

// WorldClient is the world connection an agent drives. Instant actions
// block until the world acknowledges them or the action timeout fires.
// Start* calls return a world task id; completion is reported through
// TaskState once the world emits a terminal event for it.
//
// Implementations must be safe for use from the agent tick goroutine
// plus concurrent Obs readers.
type WorldClient interface {
	AgentID() string
	Name() string

	// Obs returns the latest observation. ok is false until the first
	// OBS frame lands after the handshake.
	Obs() (protocol.ObsMsg, bool)

	Say(ctx context.Context, text string) error
	Equip(ctx context.Context, itemID, slot string) error
	Consume(ctx context.Context, itemID string) error
	SleepAt(ctx context.Context, bedPos Vec3i) error
	Attack(ctx context.Context, targetID string) error

	StartMove(ctx context.Context, dest Vec3i, tolerance float64) (string, error)
	StartFollow(ctx context.Context, entityID string, distance float64) (string, error)
	StartMine(ctx context.Context, blockPos Vec3i) (string, error)
	StartCraft(ctx context.Context, recipeID string, count int) (string, error)

	// StopTasks cancels every live world task for this agent.
	StopTasks(ctx context.Context) error

	// TaskState reports the last known status for a task id, with the
	// failure code when status is TaskFailed.
	TaskState(taskID string) (TaskStatus, string)

	// AwaitTask blocks until the task reaches a terminal status or ctx
	// ends. Short synchronous work (crafting) is awaited in-tick;
	// movement tasks are polled through TaskState instead.
	AwaitTask(ctx context.Context, taskID string) (TaskStatus, string, error)

	Close() error
}
