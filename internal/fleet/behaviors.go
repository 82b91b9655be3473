package fleet

import (
	"context"
	"fmt"

	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/protocol"
)

// blockDropping finds the block type whose harvest yields item.
func (a *Agent) blockDropping(item string) (string, bool) {
	for id, def := range a.cats.Blocks.Defs {
		if def.Breakable && def.DropsItem == item {
			return id, true
		}
	}
	return "", false
}

// stepGather harvests toward the directive's item target, defaulting to
// the raw resource. The directive completes once the agent carries the
// requested count.
func (a *Agent) stepGather(ctx context.Context, obs protocol.ObsMsg) {
	d := a.directive
	item := d.Item
	if item == "" {
		item = a.cats.Progression.RawItem
	}
	if d.Count > 0 && invCount(obs, item) >= d.Count {
		a.say(ctx, "task-done", fmt.Sprintf("got %d %s", d.Count, item))
		a.finishDirective(ctx)
		return
	}
	block, ok := a.blockDropping(item)
	if !ok {
		a.say(ctx, "bad-target", fmt.Sprintf("nothing around drops %s", item))
		a.finishDirective(ctx)
		return
	}
	a.state = StateGathering
	a.harvestNearest(ctx, obs, block)
}

// stepMineDirective is the gather flow with a mining default and state.
func (a *Agent) stepMineDirective(ctx context.Context, obs protocol.ObsMsg) {
	d := a.directive
	item := d.Item
	if item == "" {
		item = "STONE"
	}
	if d.Count > 0 && invCount(obs, item) >= d.Count {
		a.say(ctx, "task-done", fmt.Sprintf("mined %d %s", d.Count, item))
		a.finishDirective(ctx)
		return
	}
	block, ok := a.blockDropping(item)
	if !ok {
		a.say(ctx, "bad-target", fmt.Sprintf("nothing around drops %s", item))
		a.finishDirective(ctx)
		return
	}
	a.state = StateMining
	a.harvestNearest(ctx, obs, block)
}

// stepCraftDirective crafts the requested item, walking to the station
// first when the recipe needs one. The directive completes when the
// count is on hand; any craft failure abandons the order rather than
// retrying it every tick.
func (a *Agent) stepCraftDirective(ctx context.Context, obs protocol.ObsMsg) {
	d := a.directive
	if d.Item == "" {
		a.say(ctx, "bad-target", "craft what? no item understood")
		a.finishDirective(ctx)
		return
	}
	count := d.Count
	if count <= 0 {
		count = 1
	}
	if invCount(obs, d.Item) >= count {
		a.say(ctx, "task-done", fmt.Sprintf("%s ready", d.Item))
		a.finishDirective(ctx)
		return
	}

	recipe, ok := a.recipeFor(d.Item)
	if !ok {
		a.say(ctx, "no-recipe", fmt.Sprintf("no recipe makes %s", d.Item))
		a.finishDirective(ctx)
		return
	}

	a.state = StateCraftingTools
	inv := invMap(obs)
	if recipe.Station != "" && inv[recipe.Station] == 0 {
		station, found := a.findStationBlock(obs)
		if !found {
			a.say(ctx, "no-station", fmt.Sprintf("need a %s to craft %s", recipe.Station, d.Item))
			a.failToIdle(ctx, fmt.Sprintf("craft %s needs absent station", d.Item))
			a.directive = nil
			return
		}
		if selfPos(obs).Dist(Vec3i(station.Pos)) > float64(a.tune.Navigation.ReachRadius) {
			if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMove, Dest: Vec3i(station.Pos)}, 0); err != nil {
				a.failToIdle(ctx, fmt.Sprintf("station goal failed: %v", err))
				a.directive = nil
				return
			}
			switch res, code := a.nav.poll(a.world); res {
			case goalFailed:
				a.failToIdle(ctx, fmt.Sprintf("walk to station failed (%s)", code))
				a.directive = nil
			case goalTimedOut:
				a.failToIdle(ctx, "walk to station timed out")
				a.directive = nil
			}
			return
		}
	}

	runs := craftRuns(recipe, d.Item, count-invCount(obs, d.Item))
	for _, in := range recipe.Inputs {
		if inv[in.Item] < in.Count*runs {
			a.say(ctx, "no-material", fmt.Sprintf("short on %s for %s", in.Item, d.Item))
			a.failToIdle(ctx, fmt.Sprintf("craft %s short on %s", d.Item, in.Item))
			a.directive = nil
			return
		}
	}
	if a.craftNow(ctx, recipe.RecipeID, runs) {
		a.say(ctx, "task-done", fmt.Sprintf("%s ready", d.Item))
		a.finishDirective(ctx)
	} else {
		a.directive = nil
	}
}

func (a *Agent) recipeFor(item string) (catalogs.RecipeDef, bool) {
	if r, ok := a.cats.Recipes.ByID[item]; ok {
		return r, true
	}
	for _, r := range a.cats.Recipes.ByID {
		for _, out := range r.Outputs {
			if out.Item == item {
				return r, true
			}
		}
	}
	return catalogs.RecipeDef{}, false
}

// craftRuns is how many recipe executions cover a deficit.
func craftRuns(r catalogs.RecipeDef, item string, deficit int) int {
	per := 1
	for _, out := range r.Outputs {
		if out.Item == item && out.Count > 0 {
			per = out.Count
		}
	}
	runs := (deficit + per - 1) / per
	if runs < 1 {
		runs = 1
	}
	return runs
}

// stepMoveDirective walks to the ordered destination and completes on
// arrival. A failed or timed-out walk abandons the order with a note
// instead of retrying forever.
func (a *Agent) stepMoveDirective(ctx context.Context, obs protocol.ObsMsg) {
	d := a.directive
	if d.Dest == nil {
		a.say(ctx, "bad-target", "go where? no destination understood")
		a.finishDirective(ctx)
		return
	}
	dest := *d.Dest
	if selfPos(obs).DistXZ(dest) <= float64(a.tune.Navigation.ArriveRadius) {
		a.finishDirective(ctx)
		return
	}
	if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMove, Dest: dest}, 0); err != nil {
		a.say(ctx, "move-fail", fmt.Sprintf("cannot head to %s", dest))
		a.failToIdle(ctx, fmt.Sprintf("move goal failed: %v", err))
		a.directive = nil
		return
	}
	switch res, code := a.nav.poll(a.world); res {
	case goalArrived:
		a.finishDirective(ctx)
	case goalFailed:
		a.say(ctx, "move-fail", fmt.Sprintf("could not reach %s", dest))
		a.failToIdle(ctx, fmt.Sprintf("move to %s failed (%s)", dest, code))
		a.directive = nil
	case goalTimedOut:
		a.failToIdle(ctx, fmt.Sprintf("move to %s timed out", dest))
		a.directive = nil
	}
}

// stepExploreDirective wanders like stepExplore but completes the order
// after a bounded number of hops, so an explore task can finish without
// waiting for the deadline.
func (a *Agent) stepExploreDirective(ctx context.Context, obs protocol.ObsMsg) {
	max := a.tune.Navigation.ExploreHops
	if max <= 0 {
		max = 5
	}
	if a.exploreHops >= max {
		a.say(ctx, "task-done", "had a look around, nothing urgent out there")
		a.exploreHops = 0
		a.finishDirective(ctx)
		return
	}
	before := a.nav.active()
	a.stepExplore(ctx, obs)
	after := a.nav.active()
	if !after.IsZero() && !after.Equal(before) {
		a.exploreHops++
	}
}

// stepAttackDirective hunts the nearest hostile, closing in until the
// strike lands. An empty horizon or a vanished target completes the
// order rather than failing it.
func (a *Agent) stepAttackDirective(ctx context.Context, obs protocol.ObsMsg) {
	mob, ok := nearestEntity(obs, float64(a.tune.Navigation.SearchRadius), func(e protocol.EntityObs) bool {
		return e.Type == "MOB"
	})
	if !ok {
		a.say(ctx, "task-done", "no hostiles in sight")
		a.finishDirective(ctx)
		return
	}
	target := Vec3i(mob.Pos)
	if selfPos(obs).Dist(target) > float64(a.tune.Navigation.ReachRadius) {
		if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMove, Dest: target}, 0); err != nil {
			a.failToIdle(ctx, fmt.Sprintf("attack approach failed: %v", err))
			a.directive = nil
			return
		}
		switch res, code := a.nav.poll(a.world); res {
		case goalFailed:
			a.say(ctx, "move-fail", fmt.Sprintf("could not close on %s", mob.ID))
			a.failToIdle(ctx, fmt.Sprintf("approach to %s failed (%s)", mob.ID, code))
			a.directive = nil
		case goalTimedOut:
			a.failToIdle(ctx, fmt.Sprintf("approach to %s timed out", mob.ID))
			a.directive = nil
		}
		return
	}
	if err := a.world.Attack(ctx, mob.ID); err != nil {
		a.say(ctx, "attack-fail", fmt.Sprintf("could not hit %s", mob.ID))
		a.failToIdle(ctx, fmt.Sprintf("attack %s failed: %v", mob.ID, err))
		a.directive = nil
		return
	}
	a.say(ctx, "task-done", fmt.Sprintf("struck %s down", mob.ID))
	a.finishDirective(ctx)
}

// stepExplore wanders: pick a random offset, walk there, pick another.
func (a *Agent) stepExplore(ctx context.Context, obs protocol.ObsMsg) {
	a.state = StateExploring
	if !a.nav.active().IsZero() {
		switch res, _ := a.nav.poll(a.world); res {
		case goalRunning:
			return
		case goalFailed, goalTimedOut:
			// Fall through and pick a fresh direction.
		case goalArrived:
		}
	}
	step := a.tune.Navigation.ExploreStep
	if step <= 0 {
		step = 12
	}
	self := selfPos(obs)
	dest := Vec3i{
		self[0] + a.rng.Intn(2*step+1) - step,
		self[1],
		self[2] + a.rng.Intn(2*step+1) - step,
	}
	if dest == self {
		dest[0] += step
	}
	if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalExplore, Dest: dest}, 0); err != nil {
		a.failToIdle(ctx, fmt.Sprintf("explore goal failed: %v", err))
	}
}
