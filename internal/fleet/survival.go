package fleet

import (
	"context"
	"fmt"

	"fleetmind.ai/internal/protocol"
)

const maxHunger = 20

// stepSurvival runs the eat and sleep checks that preempt all other
// behavior. It returns true when survival consumed the tick; the
// agent's recorded state is only replaced by the sleep path, never by
// eating.
func (a *Agent) stepSurvival(ctx context.Context, obs protocol.ObsMsg) bool {
	if a.stepEat(ctx, obs) {
		return true
	}
	return a.stepSleep(ctx, obs)
}

func (a *Agent) hungry(obs protocol.ObsMsg) bool {
	if obs.Self.Hunger < a.tune.Survival.HungerEatBelow {
		return true
	}
	return obs.Self.Saturation <= 0 && obs.Self.Hunger < maxHunger
}

// stepEat eats the first available item from the food priority list.
// An attempt, successful or not, ends the tick; having no food is a
// no-op so the agent keeps working hungry.
func (a *Agent) stepEat(ctx context.Context, obs protocol.ObsMsg) bool {
	if !a.hungry(obs) {
		return false
	}
	for _, food := range a.cats.Progression.Foods {
		if invCount(obs, food) == 0 {
			continue
		}
		if err := a.world.Equip(ctx, food, "hand"); err != nil {
			a.logger.Printf("agent %s: equip %s failed: %v", a.name, food, err)
			return true
		}
		if err := a.world.Consume(ctx, food); err != nil {
			a.logger.Printf("agent %s: consume %s failed: %v", a.name, food, err)
			return true
		}
		return true
	}
	if a.rng.Float64() < a.tune.Social.HelpChatChance {
		a.say(ctx, "need-food", "running on empty, anyone have food?")
	}
	return false
}

// stepSleep drives the night/bed flow. Waking, staying asleep and the
// approach to a bed all consume the tick; having no bed does not, so
// night work continues with an occasional advisory.
func (a *Agent) stepSleep(ctx context.Context, obs protocol.ObsMsg) bool {
	night := obs.World.IsNight || a.sleepForced

	if a.state == StateSleeping {
		if night {
			return true
		}
		// Dawn: wake and pick work back up next tick.
		a.sleepForced = false
		if a.directive != nil && a.directive.Category == "sleep" {
			a.directive = nil
		}
		a.toIdle(ctx)
		return true
	}

	if !night {
		if a.state == StateMovingToSleep {
			a.toIdle(ctx)
		}
		return false
	}

	if a.state == StateMovingToSleep {
		a.stepSleepApproach(ctx, obs)
		return true
	}

	bed, placed := a.nearestBed(obs)
	if !placed {
		if invCount(obs, a.cats.Progression.BedItem) > 0 {
			a.say(ctx, "no-bed", "carrying a bed with nowhere to put it")
		} else {
			a.say(ctx, "no-bed", "no bed around, working through the night")
		}
		if a.sleepForced {
			// A sleep order without a reachable bed cannot make progress.
			a.logger.Printf("agent %s: sleep ordered but no bed in range", a.name)
			a.finishDirective(ctx)
			return true
		}
		return false
	}

	a.state = StateMovingToSleep
	a.approachBed(ctx, obs, Vec3i(bed.Pos))
	return true
}

func (a *Agent) nearestBed(obs protocol.ObsMsg) (protocol.BlockObs, bool) {
	radius := float64(a.tune.Survival.BedSearchRadius)
	bedBlock := a.cats.Progression.BedItem
	return nearestBlock(obs, radius, func(b protocol.BlockObs) bool {
		return b.Block == bedBlock
	})
}

// stepSleepApproach re-resolves the nearest bed each tick and walks or
// sleeps depending on proximity. Used by the night override and by an
// explicit sleep order.
func (a *Agent) stepSleepApproach(ctx context.Context, obs protocol.ObsMsg) {
	bed, ok := a.nearestBed(obs)
	if !ok {
		a.say(ctx, "no-bed", "lost sight of the bed")
		a.sleepForced = false
		a.failToIdle(ctx, "bed vanished during approach")
		return
	}
	a.approachBed(ctx, obs, Vec3i(bed.Pos))
}

// approachBed sleeps when the goal has resolved and the bed is within
// reach; otherwise it keeps the navigation goal pointed at the bed.
func (a *Agent) approachBed(ctx context.Context, obs protocol.ObsMsg, bedPos Vec3i) {
	reach := float64(a.tune.Navigation.ReachRadius)
	if a.nav.active().IsZero() && selfPos(obs).Dist(bedPos) <= reach {
		if err := a.world.SleepAt(ctx, bedPos); err != nil {
			a.sleepForced = false
			if a.directive != nil && a.directive.Category == "sleep" {
				a.directive = nil
			}
			a.failToIdle(ctx, fmt.Sprintf("sleep at %s rejected: %v", bedPos, err))
			return
		}
		a.state = StateSleeping
		return
	}

	if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMove, Dest: bedPos}, 0); err != nil {
		a.failToIdle(ctx, fmt.Sprintf("bed goal failed: %v", err))
		return
	}
	switch res, code := a.nav.poll(a.world); res {
	case goalFailed:
		a.failToIdle(ctx, fmt.Sprintf("bed approach failed (%s)", code))
	case goalTimedOut:
		a.failToIdle(ctx, "bed approach timed out")
	}
}
