package simworld

import (
	"fleetmind.ai/internal/protocol"
)

func (w *World) applyAct(a *Agent, act protocol.ActMsg, nowTick uint64) {
	if act.Tick+staleTickWindow < nowTick || act.Tick > nowTick {
		a.AddEvent(actionResult(nowTick, "ACT", false, protocol.ErrStale, "act tick out of range"))
		return
	}

	// Cancel first, so a cancel+replace in one frame never conflicts.
	for _, cid := range act.Cancel {
		if a.MoveTask != nil && a.MoveTask.TaskID == cid {
			a.MoveTask = nil
			a.AddEvent(actionResult(nowTick, cid, true, "", "canceled"))
			continue
		}
		if a.WorkTask != nil && a.WorkTask.TaskID == cid {
			a.WorkTask = nil
			a.AddEvent(actionResult(nowTick, cid, true, "", "canceled"))
			continue
		}
		a.AddEvent(actionResult(nowTick, cid, false, protocol.ErrInvalidTarget, "task not found"))
	}

	for _, inst := range act.Instants {
		w.applyInstant(a, inst, nowTick)
	}
	for _, tr := range act.Tasks {
		w.applyTaskReq(a, tr, nowTick)
	}
}

func (w *World) applyInstant(a *Agent, inst protocol.InstantReq, nowTick uint64) {
	switch inst.Type {
	case "SAY":
		ok, cooldown := a.RateLimitAllow("SAY", nowTick, 50, 5)
		if !ok {
			e := actionResult(nowTick, inst.ID, false, protocol.ErrRateLimit, "too many SAY")
			e["cooldown_ticks"] = cooldown
			a.AddEvent(e)
			return
		}
		if inst.Text == "" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing text"))
			return
		}
		w.broadcastChat(nowTick, a, inst.Text)
		a.AddEvent(actionResult(nowTick, inst.ID, true, "", "ok"))

	case "EQUIP":
		if inst.ItemID == "" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing item_id"))
			return
		}
		if a.Inventory[inst.ItemID] <= 0 {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrNoResource, "item not in inventory"))
			return
		}
		switch inst.Slot {
		case "", "hand":
			a.Equipment.Hand = inst.ItemID
		case "head":
			a.Equipment.Head = inst.ItemID
		case "torso":
			a.Equipment.Torso = inst.ItemID
		case "legs":
			a.Equipment.Legs = inst.ItemID
		case "feet":
			a.Equipment.Feet = inst.ItemID
		default:
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "unknown slot"))
			return
		}
		a.AddEvent(actionResult(nowTick, inst.ID, true, "", "ok"))

	case "CONSUME":
		item := a.Equipment.Hand
		if item == "" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "nothing held"))
			return
		}
		def, ok := w.cats.Items.Defs[item]
		if !ok || def.Kind != "FOOD" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrInvalidTarget, "not edible"))
			return
		}
		if a.Inventory[item] <= 0 {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrNoResource, "item not in inventory"))
			return
		}
		a.Inventory[item]--
		if a.Inventory[item] <= 0 {
			delete(a.Inventory, item)
			a.Equipment.Hand = ""
		}
		a.Hunger += def.EdibleRestore
		if a.Hunger > maxHunger {
			a.Hunger = maxHunger
		}
		a.Saturation += float64(def.EdibleRestore) / 2
		a.AddEvent(actionResult(nowTick, inst.ID, true, "", "ok"))

	case "SLEEP":
		pos := Vec3i(inst.BlockPos)
		if !w.isNight(nowTick) {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrConflict, "can only sleep at night"))
			return
		}
		if w.terrain.BlockAt(pos) != "BED" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrInvalidTarget, "no bed there"))
			return
		}
		if manhattan(a.Pos, pos) > 2 {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrInvalidTarget, "too far from bed"))
			return
		}
		a.Asleep = true
		a.BedPos = pos
		a.MoveTask = nil
		a.WorkTask = nil
		a.AddEvent(actionResult(nowTick, inst.ID, true, "", "ok"))

	case "ATTACK":
		if inst.TargetID == "" {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "missing target_id"))
			return
		}
		target := w.agents[inst.TargetID]
		if target == nil || target.ID == a.ID {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrInvalidTarget, "target not found"))
			return
		}
		if manhattan(a.Pos, target.Pos) > 2 {
			a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrInvalidTarget, "too far"))
			return
		}
		target.HP -= 2
		if target.HP < 0 {
			target.HP = 0
		}
		target.AddEvent(protocol.Event{"t": nowTick, "type": "HURT", "by": a.ID, "hp": target.HP})
		a.AddEvent(actionResult(nowTick, inst.ID, true, "", "ok"))

	default:
		a.AddEvent(actionResult(nowTick, inst.ID, false, protocol.ErrBadRequest, "unknown instant type"))
	}
}

func (w *World) applyTaskReq(a *Agent, tr protocol.TaskReq, nowTick uint64) {
	switch tr.Type {
	case "STOP":
		a.MoveTask = nil
		a.WorkTask = nil
		a.AddEvent(actionResult(nowTick, tr.ID, true, "", "stopped"))

	case "MOVE_TO":
		if a.MoveTask != nil {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrConflict, "movement task slot occupied"))
			return
		}
		taskID := w.newTaskID()
		a.MoveTask = &MoveTask{
			TaskID:    taskID,
			Kind:      "MOVE_TO",
			Target:    Vec3i(tr.Target),
			Tolerance: tr.Tolerance,
		}
		a.AddEvent(taskAccepted(nowTick, tr.ID, taskID))

	case "FOLLOW":
		if a.MoveTask != nil {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrConflict, "movement task slot occupied"))
			return
		}
		if tr.TargetID == "" {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrBadRequest, "missing target_id"))
			return
		}
		if w.agents[tr.TargetID] == nil {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrInvalidTarget, "target not found"))
			return
		}
		dist := tr.Distance
		if dist <= 0 {
			dist = 3
		}
		taskID := w.newTaskID()
		a.MoveTask = &MoveTask{
			TaskID:   taskID,
			Kind:     "FOLLOW",
			FollowID: tr.TargetID,
			Distance: dist,
		}
		a.AddEvent(taskAccepted(nowTick, tr.ID, taskID))

	case "MINE":
		if a.WorkTask != nil {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrConflict, "work task slot occupied"))
			return
		}
		taskID := w.newTaskID()
		a.WorkTask = &WorkTask{
			TaskID:   taskID,
			Kind:     "MINE",
			BlockPos: Vec3i(tr.BlockPos),
		}
		a.AddEvent(taskAccepted(nowTick, tr.ID, taskID))

	case "CRAFT":
		if a.WorkTask != nil {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrConflict, "work task slot occupied"))
			return
		}
		if tr.RecipeID == "" || tr.Count <= 0 {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrBadRequest, "missing recipe_id/count"))
			return
		}
		if _, ok := w.cats.Recipes.ByID[tr.RecipeID]; !ok {
			a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrInvalidTarget, "unknown recipe"))
			return
		}
		taskID := w.newTaskID()
		a.WorkTask = &WorkTask{
			TaskID:   taskID,
			Kind:     "CRAFT",
			RecipeID: tr.RecipeID,
			Count:    tr.Count,
		}
		a.AddEvent(taskAccepted(nowTick, tr.ID, taskID))

	default:
		a.AddEvent(actionResult(nowTick, tr.ID, false, protocol.ErrBadRequest, "unknown task type"))
	}
}

func (w *World) broadcastChat(tick uint64, from *Agent, text string) {
	for _, a := range w.agents {
		a.AddEvent(protocol.Event{
			"t":    tick,
			"type": "CHAT",
			"from": from.ID,
			"name": from.Name,
			"text": text,
		})
	}
}

func actionResult(tick uint64, ref string, ok bool, code string, message string) protocol.Event {
	e := protocol.Event{
		"t":    tick,
		"type": "ACTION_RESULT",
		"ref":  ref,
		"ok":   ok,
	}
	if code != "" {
		e["code"] = code
	}
	if message != "" {
		e["message"] = message
	}
	return e
}

func taskAccepted(tick uint64, ref, taskID string) protocol.Event {
	return protocol.Event{
		"t":       tick,
		"type":    "ACTION_RESULT",
		"ref":     ref,
		"ok":      true,
		"task_id": taskID,
	}
}

func taskDone(tick uint64, taskID, kind string) protocol.Event {
	return protocol.Event{"t": tick, "type": "TASK_DONE", "task_id": taskID, "kind": kind}
}

func taskFail(tick uint64, taskID, code, message string) protocol.Event {
	return protocol.Event{"t": tick, "type": "TASK_FAIL", "task_id": taskID, "code": code, "message": message}
}
