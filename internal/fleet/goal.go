package fleet

import (
	"context"
	"time"
)

// GoalKind tags the navigation goal variant.
type GoalKind string

const (
	GoalNone    GoalKind = ""
	GoalMove    GoalKind = "MOVE"
	GoalFollow  GoalKind = "FOLLOW"
	GoalMine    GoalKind = "MINE"
	GoalExplore GoalKind = "EXPLORE"
)

// Goal is a tagged navigation target: a destination for MOVE, MINE and
// EXPLORE, an entity id for FOLLOW.
type Goal struct {
	Kind     GoalKind
	Dest     Vec3i
	EntityID string
}

func (g Goal) IsZero() bool {
	return g.Kind == GoalNone
}

// Equal reports whether two goals name the same target. Follow goals
// compare by entity id only; positional goals by kind and destination.
func (g Goal) Equal(o Goal) bool {
	if g.Kind != o.Kind {
		return false
	}
	if g.Kind == GoalFollow {
		return g.EntityID == o.EntityID
	}
	return g.Dest == o.Dest
}

// navigator owns the agent's single live navigation goal. ensure is
// idempotent for an unchanged goal, replaces the world task otherwise,
// and poll ages the goal out after the configured timeout.
//
// gen increments on every set and clear. Callers snapshot it before a
// blocking call and check Stale afterwards so a result for a replaced
// goal is dropped instead of applied.
type navigator struct {
	goal    Goal
	taskID  string
	gen     uint64
	setAt   time.Time
	timeout time.Duration

	now func() time.Time
}

func newNavigator(timeout time.Duration) *navigator {
	return &navigator{timeout: timeout, now: time.Now}
}

func (n *navigator) active() Goal { return n.goal }

func (n *navigator) generation() uint64 { return n.gen }

func (n *navigator) stale(gen uint64) bool { return n.gen != gen }

// ensure makes g the live goal. An identical live goal is a no-op, so
// callers can re-assert their goal every tick without churning the
// world task. A different goal stops the current task first, then
// starts the new one. On start failure the navigator is left cleared
// and the error is returned for the caller to idle on.
func (n *navigator) ensure(ctx context.Context, w WorldClient, g Goal, followDist float64) error {
	if g.IsZero() {
		n.clear(ctx, w)
		return nil
	}
	if n.goal.Equal(g) {
		return nil
	}
	if !n.goal.IsZero() {
		if err := w.StopTasks(ctx); err != nil {
			n.reset()
			return err
		}
	}
	n.reset()

	var (
		taskID string
		err    error
	)
	switch g.Kind {
	case GoalFollow:
		taskID, err = w.StartFollow(ctx, g.EntityID, followDist)
	case GoalMine:
		taskID, err = w.StartMine(ctx, g.Dest)
	default:
		taskID, err = w.StartMove(ctx, g.Dest, 1)
	}
	if err != nil {
		return err
	}
	n.goal = g
	n.taskID = taskID
	n.setAt = n.now()
	return nil
}

// clear drops the live goal and stops its world task. Safe to call with
// no goal set.
func (n *navigator) clear(ctx context.Context, w WorldClient) {
	if n.goal.IsZero() {
		n.reset()
		return
	}
	// Best effort: a dead connection fails here and the goal is dropped
	// locally anyway.
	_ = w.StopTasks(ctx)
	n.reset()
}

func (n *navigator) reset() {
	n.goal = Goal{}
	n.taskID = ""
	n.setAt = time.Time{}
	n.gen++
}

// goalResult is what poll reports about the live goal.
type goalResult int

const (
	goalRunning goalResult = iota
	goalArrived
	goalFailed
	goalTimedOut
)

// poll inspects the live goal's world task. Terminal results reset the
// navigator; the caller decides the state transition.
func (n *navigator) poll(w WorldClient) (goalResult, string) {
	if n.goal.IsZero() {
		return goalRunning, ""
	}
	if n.timeout > 0 && n.now().Sub(n.setAt) > n.timeout {
		n.reset()
		return goalTimedOut, ""
	}
	st, code := w.TaskState(n.taskID)
	switch st {
	case TaskDone:
		n.reset()
		return goalArrived, ""
	case TaskFailed:
		n.reset()
		return goalFailed, code
	}
	return goalRunning, ""
}
