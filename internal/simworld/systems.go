package simworld

import (
	"sort"

	"fleetmind.ai/internal/protocol"
)

const mineWorkTicks = 6

func (w *World) sortedAgents() []*Agent {
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) systemMovement(nowTick uint64) {
	for _, a := range w.sortedAgents() {
		mt := a.MoveTask
		if mt == nil || a.Asleep {
			continue
		}

		var target Vec3i
		switch mt.Kind {
		case "MOVE_TO":
			target = mt.Target
			tol := int(mt.Tolerance)
			if tol < 1 {
				tol = 1
			}
			if manhattanXZ(a.Pos, target) <= tol {
				a.MoveTask = nil
				a.AddEvent(taskDone(nowTick, mt.TaskID, mt.Kind))
				continue
			}
		case "FOLLOW":
			peer := w.agents[mt.FollowID]
			if peer == nil {
				a.MoveTask = nil
				a.AddEvent(taskFail(nowTick, mt.TaskID, protocol.ErrInvalidTarget, "follow target gone"))
				continue
			}
			target = peer.Pos
			// Close enough: hold position, keep the task alive.
			if manhattanXZ(a.Pos, target) <= int(mt.Distance) {
				continue
			}
		default:
			continue
		}

		if !w.stepToward(a, target) {
			a.MoveTask = nil
			a.AddEvent(taskFail(nowTick, mt.TaskID, protocol.ErrConflict, "path blocked"))
		}
	}
}

// stepToward advances one block, X axis before Z. A solid block on the
// preferred axis makes it try the other; both blocked means stuck.
func (w *World) stepToward(a *Agent, target Vec3i) bool {
	stepX := a.Pos
	if target[0] > a.Pos[0] {
		stepX[0]++
	} else if target[0] < a.Pos[0] {
		stepX[0]--
	}
	stepZ := a.Pos
	if target[2] > a.Pos[2] {
		stepZ[2]++
	} else if target[2] < a.Pos[2] {
		stepZ[2]--
	}
	if stepX == a.Pos && stepZ == a.Pos {
		return true
	}
	for _, next := range []Vec3i{stepX, stepZ} {
		if next == a.Pos || w.terrain.solidAt(next) {
			continue
		}
		a.Pos = next
		return true
	}
	return false
}

func (w *World) systemWork(nowTick uint64) {
	for _, a := range w.sortedAgents() {
		wt := a.WorkTask
		if wt == nil || a.Asleep {
			continue
		}
		switch wt.Kind {
		case "MINE":
			w.tickMine(a, wt, nowTick)
		case "CRAFT":
			w.tickCraft(a, wt, nowTick)
		}
	}
}

func (w *World) tickMine(a *Agent, wt *WorkTask, nowTick uint64) {
	if manhattan(a.Pos, wt.BlockPos) > 2 {
		a.WorkTask = nil
		a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrInvalidTarget, "too far"))
		return
	}
	block := w.terrain.BlockAt(wt.BlockPos)
	if block == "" {
		a.WorkTask = nil
		a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrInvalidTarget, "no block there"))
		return
	}
	def, ok := w.cats.Blocks.Defs[block]
	if !ok || !def.Breakable {
		a.WorkTask = nil
		a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrInvalidTarget, "not breakable"))
		return
	}

	wt.WorkTicks++
	if wt.WorkTicks < mineWorkTicks {
		return
	}

	w.terrain.RemoveBlock(wt.BlockPos)
	if def.DropsItem != "" {
		a.Inventory[def.DropsItem]++
	}
	a.WorkTask = nil
	a.AddEvent(taskDone(nowTick, wt.TaskID, wt.Kind))
}

func (w *World) tickCraft(a *Agent, wt *WorkTask, nowTick uint64) {
	rec, ok := w.cats.Recipes.ByID[wt.RecipeID]
	if !ok {
		a.WorkTask = nil
		a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrInvalidTarget, "unknown recipe"))
		return
	}
	// Station constraint: a bench block nearby, or the bench item held.
	if rec.Station != "" {
		nearby := w.terrain.NearBlock(a.Pos, rec.Station, 2)
		held := a.Inventory[rec.Station] > 0
		if !nearby && !held {
			a.WorkTask = nil
			a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrNoResource, "need "+rec.Station+" nearby"))
			return
		}
	}

	wt.WorkTicks++
	if wt.WorkTicks < rec.TimeTicks {
		return
	}
	wt.WorkTicks = 0

	for _, in := range rec.Inputs {
		if a.Inventory[in.Item] < in.Count {
			a.WorkTask = nil
			a.AddEvent(taskFail(nowTick, wt.TaskID, protocol.ErrNoResource, "missing inputs"))
			return
		}
	}
	for _, in := range rec.Inputs {
		a.Inventory[in.Item] -= in.Count
		if a.Inventory[in.Item] <= 0 {
			delete(a.Inventory, in.Item)
		}
	}
	for _, out := range rec.Outputs {
		a.Inventory[out.Item] += out.Count
	}

	wt.Count--
	if wt.Count <= 0 {
		a.WorkTask = nil
		a.AddEvent(taskDone(nowTick, wt.TaskID, wt.Kind))
	}
}

// Vitals: saturation buffers hunger; empty hunger bleeds HP, a full
// belly slowly heals it.
func (w *World) systemVitals(nowTick uint64) {
	if nowTick == 0 || nowTick%200 != 0 {
		return
	}
	for _, a := range w.sortedAgents() {
		if a.Saturation > 0 {
			a.Saturation--
		} else if a.Hunger > 0 {
			a.Hunger--
		} else if a.HP > 0 {
			a.HP--
		}
		if a.Hunger >= 18 && a.HP < maxHP {
			a.HP++
		}
	}
}

func (w *World) systemDayNight(nowTick uint64) {
	if nowTick == 0 || w.cfg.DayTicks == 0 {
		return
	}
	phase := ""
	switch nowTick % uint64(w.cfg.DayTicks) {
	case 0:
		phase = "DAWN"
	case uint64(w.cfg.DayTicks) / 2:
		phase = "DUSK"
	}
	if phase == "" {
		return
	}
	for _, a := range w.sortedAgents() {
		if phase == "DAWN" && a.Asleep {
			a.Asleep = false
		}
		a.AddEvent(protocol.Event{"t": nowTick, "type": "DAY", "phase": phase})
	}
}
