package fleet

import (
	"context"
	"fmt"

	"fleetmind.ai/internal/protocol"
)

// stepFollow keeps distance to the follow target. Following is a
// transient moving state: beyond the follow distance the agent asserts
// a follow goal, within it the goal is cleared and the agent idles in
// place. A vanished target is cleaned up explicitly, never left as a
// dangling reference.
func (a *Agent) stepFollow(ctx context.Context, obs protocol.ObsMsg) {
	id := a.followID
	snap, known := a.roster.Lookup(id)
	if !known || !snap.Connected {
		a.say(ctx, "follow-gone", fmt.Sprintf("lost %s, standing down", id))
		a.logger.Printf("agent %s: follow target %s gone", a.name, id)
		a.clearFollow(ctx)
		return
	}

	// Live entity position beats the roster snapshot when in view.
	target := snap.Pos
	if e, ok := findEntity(obs, id); ok {
		target = Vec3i(e.Pos)
	}

	dist := selfPos(obs).Dist(target)
	if dist <= a.tune.Navigation.FollowDistance {
		if !a.nav.active().IsZero() || a.state == StateFollowing {
			a.nav.clear(ctx, a.world)
			a.state = StateIdle
		}
		a.guardLeader(ctx, obs)
		return
	}

	a.state = StateFollowing
	if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalFollow, EntityID: id}, a.tune.Navigation.FollowDistance); err != nil {
		a.failToIdle(ctx, fmt.Sprintf("follow goal failed: %v", err))
		return
	}
	switch res, code := a.nav.poll(a.world); res {
	case goalFailed:
		if code == protocol.ErrInvalidTarget {
			a.say(ctx, "follow-gone", fmt.Sprintf("lost %s, standing down", id))
			a.clearFollow(ctx)
			return
		}
		a.failToIdle(ctx, fmt.Sprintf("follow %s failed (%s)", id, code))
	case goalTimedOut:
		a.logger.Printf("agent %s: follow %s never closed distance", a.name, id)
		a.clearFollow(ctx)
	}
}

// clearFollow drops the relationship, the goal and any follow order.
func (a *Agent) clearFollow(ctx context.Context) {
	a.followID = ""
	if a.directive != nil && a.directive.Category == "follow" {
		a.directive = nil
	}
	a.toIdle(ctx)
}

// guardLeader swings at a hostile that closes on the escort position.
func (a *Agent) guardLeader(ctx context.Context, obs protocol.ObsMsg) {
	mob, ok := nearestEntity(obs, float64(a.tune.Navigation.ReachRadius), func(e protocol.EntityObs) bool {
		return e.Type == "MOB"
	})
	if !ok {
		return
	}
	if err := a.world.Attack(ctx, mob.ID); err != nil {
		a.logger.Printf("agent %s: attack %s failed: %v", a.name, mob.ID, err)
	}
}
