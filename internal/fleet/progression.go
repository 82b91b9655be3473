package fleet

import (
	"context"
	"fmt"
	"time"

	"fleetmind.ai/internal/protocol"
)

// WoodEquivalent normalizes raw and processed wood into one count: each
// log is 1, each plank is 1/plankPerLog (0.25 at the default ratio).
func WoodEquivalent(logs, planks, plankPerLog int) float64 {
	if plankPerLog <= 0 {
		plankPerLog = 4
	}
	return float64(logs) + float64(planks)/float64(plankPerLog)
}

type progStage int

const (
	stageGather progStage = iota
	stageStation
	stageTools
	stageDone
)

// progressionStage derives the current stage from observed inventory
// and surroundings. Evaluation order is fixed raw -> station -> tools;
// a later stage is never entered while an earlier one is unmet.
func (a *Agent) progressionStage(obs protocol.ObsMsg) progStage {
	p := &a.cats.Progression
	inv := invMap(obs)

	we := WoodEquivalent(inv[p.RawItem], inv[p.PlankItem], a.tune.Progression.PlankPerLog)
	if we < a.tune.Progression.WoodEquivalentThreshold {
		return stageGather
	}
	if !a.stationAvailable(obs, inv) {
		return stageStation
	}
	if len(a.missingTools(inv)) > 0 {
		return stageTools
	}
	return stageDone
}

func (a *Agent) stationAvailable(obs protocol.ObsMsg, inv map[string]int) bool {
	p := &a.cats.Progression
	if inv[p.StationItem] > 0 {
		return true
	}
	_, ok := a.findStationBlock(obs)
	return ok
}

func (a *Agent) findStationBlock(obs protocol.ObsMsg) (protocol.BlockObs, bool) {
	station := a.cats.Progression.StationItem
	return nearestBlock(obs, float64(a.tune.Navigation.SearchRadius), func(b protocol.BlockObs) bool {
		return b.Block == station
	})
}

func (a *Agent) missingTools(inv map[string]int) []string {
	var missing []string
	for _, tool := range a.cats.Progression.Tools {
		if inv[tool] == 0 {
			missing = append(missing, tool)
		}
	}
	return missing
}

// stepProgression advances the basic-resources plan. Stages that
// complete synchronously (crafts) loop to the next stage within the
// same tick, bounded by the configured iteration cap; stages that wait
// on the world (movement, harvesting) end the tick.
func (a *Agent) stepProgression(ctx context.Context, obs protocol.ObsMsg) {
	maxIter := a.tune.Progression.MaxPlanIterations
	if maxIter <= 0 {
		maxIter = 1
	}
	for i := 0; i < maxIter; i++ {
		if i > 0 {
			if o, ok := a.world.Obs(); ok {
				obs = o
			}
		}
		switch a.progressionStage(obs) {
		case stageGather:
			a.state = StateGathering
			a.harvestNearest(ctx, obs, a.cats.Progression.RawBlock)
			return
		case stageStation:
			if !a.stepStationStage(ctx, obs) {
				return
			}
		case stageTools:
			if !a.stepToolsStage(ctx, obs) {
				return
			}
		case stageDone:
			a.needsBasics = false
			a.logger.Printf("agent %s: basic kit complete", a.name)
			a.toIdle(ctx)
			return
		}
	}
}

// harvestNearest drives one harvesting step toward the closest block of
// the wanted type: no candidate switches to exploring with the goal
// cleared, otherwise the mine goal is asserted and its outcome polled.
func (a *Agent) harvestNearest(ctx context.Context, obs protocol.ObsMsg, blockID string) {
	target, ok := nearestBlock(obs, float64(a.tune.Navigation.SearchRadius), func(b protocol.BlockObs) bool {
		return b.Block == blockID
	})
	if !ok {
		if a.state == StateExploring {
			a.stepExplore(ctx, obs)
			return
		}
		a.state = StateExploring
		a.nav.clear(ctx, a.world)
		return
	}

	if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMine, Dest: Vec3i(target.Pos)}, 0); err != nil {
		a.failToIdle(ctx, fmt.Sprintf("harvest goal failed: %v", err))
		return
	}
	switch res, code := a.nav.poll(a.world); res {
	case goalArrived:
		// Harvest landed; the next evaluation sees the drops.
	case goalFailed:
		a.failToIdle(ctx, fmt.Sprintf("harvest of %s failed (%s)", blockID, code))
	case goalTimedOut:
		a.failToIdle(ctx, fmt.Sprintf("harvest of %s timed out", blockID))
	}
}

// stepStationStage crafts the station, converting logs to planks first
// when short. Returns true when the plan should re-evaluate in this
// tick, false when the tick is spent.
func (a *Agent) stepStationStage(ctx context.Context, obs protocol.ObsMsg) bool {
	a.state = StateCraftingStation
	p := &a.cats.Progression
	inv := invMap(obs)

	need := a.tune.Progression.StationPlankMin
	if inv[p.PlankItem] < need {
		return a.convertLogs(ctx, inv, need-inv[p.PlankItem])
	}
	return a.craftNow(ctx, p.StationItem, 1)
}

// stepToolsStage crafts missing tools one per pass, walking to the
// station first when out of reach. A failed craft aborts the remaining
// tools for this tick.
func (a *Agent) stepToolsStage(ctx context.Context, obs protocol.ObsMsg) bool {
	a.state = StateCraftingTools
	p := &a.cats.Progression
	inv := invMap(obs)

	missing := a.missingTools(inv)
	if len(missing) == 0 {
		return true
	}

	if inv[p.StationItem] == 0 {
		station, ok := a.findStationBlock(obs)
		if !ok {
			// Station disappeared since the stage check; re-evaluate.
			return true
		}
		if selfPos(obs).Dist(Vec3i(station.Pos)) > float64(a.tune.Navigation.ReachRadius) {
			if err := a.nav.ensure(ctx, a.world, Goal{Kind: GoalMove, Dest: Vec3i(station.Pos)}, 0); err != nil {
				a.failToIdle(ctx, fmt.Sprintf("station goal failed: %v", err))
				return false
			}
			switch res, code := a.nav.poll(a.world); res {
			case goalFailed:
				a.failToIdle(ctx, fmt.Sprintf("walk to station failed (%s)", code))
			case goalTimedOut:
				a.failToIdle(ctx, "walk to station timed out")
			}
			return false
		}
	}

	tool := missing[0]
	recipe, ok := a.cats.Recipes.ByID[tool]
	if !ok {
		a.say(ctx, "no-recipe", fmt.Sprintf("no recipe for %s, skipping the kit", tool))
		a.failToIdle(ctx, fmt.Sprintf("missing recipe for %s", tool))
		return false
	}
	needPlanks := 0
	for _, in := range recipe.Inputs {
		if in.Item == p.PlankItem {
			needPlanks = in.Count
		}
	}
	if inv[p.PlankItem] < needPlanks {
		return a.convertLogs(ctx, inv, needPlanks-inv[p.PlankItem])
	}
	return a.craftNow(ctx, tool, 1)
}

// convertLogs crafts planks to cover a deficit, bounded by the logs on
// hand. Returns true when a conversion landed and the plan should
// re-evaluate.
func (a *Agent) convertLogs(ctx context.Context, inv map[string]int, deficit int) bool {
	p := &a.cats.Progression
	perLog := a.tune.Progression.PlankPerLog
	if perLog <= 0 {
		perLog = 4
	}
	logs := inv[p.RawItem]
	if logs == 0 || deficit <= 0 {
		a.say(ctx, "no-material", "out of logs before the kit is done")
		a.failToIdle(ctx, "plank deficit with no logs to convert")
		return false
	}
	runs := (deficit + perLog - 1) / perLog
	if runs > logs {
		runs = logs
	}
	return a.craftNow(ctx, "PLANK_FROM_LOG", runs)
}

// craftNow submits a craft and waits for its terminal result. Failure
// follows the transient-failure path: explanatory chat, goal cleared,
// idle. No retry happens within the tick.
func (a *Agent) craftNow(ctx context.Context, recipeID string, count int) bool {
	taskID, err := a.world.StartCraft(ctx, recipeID, count)
	if err != nil {
		a.say(ctx, "craft-fail", fmt.Sprintf("cannot craft %s: %v", recipeID, err))
		a.failToIdle(ctx, fmt.Sprintf("craft %s rejected: %v", recipeID, err))
		return false
	}

	wait := time.Duration(a.tune.GoalTimeoutMs) * time.Millisecond
	if wait <= 0 {
		wait = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	st, code, err := a.world.AwaitTask(cctx, taskID)
	if err != nil {
		a.say(ctx, "craft-fail", fmt.Sprintf("craft %s stalled", recipeID))
		a.failToIdle(ctx, fmt.Sprintf("craft %s wait: %v", recipeID, err))
		return false
	}
	if st != TaskDone {
		a.say(ctx, "craft-fail", fmt.Sprintf("craft %s failed (%s)", recipeID, code))
		a.failToIdle(ctx, fmt.Sprintf("craft %s failed (%s)", recipeID, code))
		return false
	}
	return true
}
