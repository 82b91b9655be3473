package simworld

import (
	"sort"

	"fleetmind.ai/internal/protocol"
)

func (w *World) buildObs(a *Agent, nowTick uint64) protocol.ObsMsg {
	r := w.cfg.ObsRadius

	placed := w.terrain.BlocksWithin(a.Pos, r)
	sort.Slice(placed, func(i, j int) bool {
		pi, pj := placed[i].Pos, placed[j].Pos
		if pi[0] != pj[0] {
			return pi[0] < pj[0]
		}
		if pi[1] != pj[1] {
			return pi[1] < pj[1]
		}
		return pi[2] < pj[2]
	})
	blocks := make([]protocol.BlockObs, 0, len(placed))
	for _, pb := range placed {
		blocks = append(blocks, protocol.BlockObs{Pos: [3]int(pb.Pos), Block: pb.Block})
	}

	ents := make([]protocol.EntityObs, 0, 8)
	for _, other := range w.sortedAgents() {
		if other.ID == a.ID {
			continue
		}
		if manhattanXZ(other.Pos, a.Pos) > r {
			continue
		}
		ents = append(ents, protocol.EntityObs{
			ID:   other.ID,
			Type: "AGENT",
			Name: other.Name,
			Pos:  [3]int(other.Pos),
		})
	}

	var taskObs []protocol.TaskObs
	if mt := a.MoveTask; mt != nil {
		to := protocol.TaskObs{TaskID: mt.TaskID, Kind: mt.Kind}
		if mt.Kind == "MOVE_TO" {
			to.Target = [3]int(mt.Target)
		}
		taskObs = append(taskObs, to)
	}
	if wt := a.WorkTask; wt != nil {
		to := protocol.TaskObs{TaskID: wt.TaskID, Kind: wt.Kind}
		if wt.Kind == "MINE" {
			to.Target = [3]int(wt.BlockPos)
		}
		if wt.Kind == "CRAFT" {
			if rec, ok := w.cats.Recipes.ByID[wt.RecipeID]; ok && rec.TimeTicks > 0 {
				to.Progress = float64(wt.WorkTicks) / float64(rec.TimeTicks)
			}
		}
		taskObs = append(taskObs, to)
	}

	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		AgentID:         a.ID,
		World: protocol.WorldObs{
			TimeOfDay: w.timeOfDay(nowTick),
			IsNight:   w.isNight(nowTick),
		},
		Self: protocol.SelfObs{
			Pos:        [3]int(a.Pos),
			HP:         a.HP,
			Hunger:     a.Hunger,
			Saturation: a.Saturation,
		},
		Inventory: a.InventoryList(),
		Equipment: a.Equipment,
		Blocks:    blocks,
		Entities:  ents,
		Events:    a.TakeEvents(),
		Tasks:     taskObs,
	}
}
