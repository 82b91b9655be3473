package orchestrator

import (
	"fleetmind.ai/internal/fleet"
)

// Dimension weights. Absent dimensions drop out and the rest are
// renormalized, so a task without a resource target or a destination
// can still reach 100.
const (
	weightAgent      = 0.4
	weightResource   = 0.3
	weightCoordinate = 0.3
)

// Agent dimension scores. Assigned means the order is accepted but the
// agent has not visibly started; working means its published state or
// goal matches the order; done means it no longer carries the task id.
const (
	scoreGone     = 0.0
	scoreAssigned = 25.0
	scoreWorking  = 60.0
	scoreDone     = 100.0
)

// busyStates maps a directive category to the agent states that count
// as actively working on it. A live navigation goal counts regardless,
// since move and attack orders ride the idle state.
var busyStates = map[string][]fleet.State{
	"gather":  {fleet.StateGathering, fleet.StateExploring},
	"mine":    {fleet.StateMining, fleet.StateExploring},
	"craft":   {fleet.StateCraftingTools, fleet.StateCraftingStation},
	"explore": {fleet.StateExploring},
	"follow":  {fleet.StateFollowing},
	"sleep":   {fleet.StateSleeping, fleet.StateMovingToSleep},
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// agentScore rates one assigned agent from its published snapshot.
// An agent that published after the task was created and no longer
// carries the task id has finished with it, one way or the other; an
// agent carrying a different task id was superseded by a newer order.
func agentScore(s fleet.Snapshot, t *Task) float64 {
	switch {
	case s.TaskID == t.ID:
		if working(s, t.Intent.Category) {
			return scoreWorking
		}
		return scoreAssigned
	case s.TaskID != "":
		return scoreDone
	case s.UpdatedAt.After(t.CreatedAt):
		return scoreDone
	default:
		return scoreAssigned
	}
}

func working(s fleet.Snapshot, category string) bool {
	if !s.Goal.IsZero() {
		return true
	}
	for _, st := range busyStates[category] {
		if s.State == st {
			return true
		}
	}
	return false
}

// computeProgress polls every assigned agent and folds the dimensions
// into one weighted percentage. present counts assigned agents still
// in the roster; finished counts those that are present and done with
// the task. Caller holds t.mu.
func computeProgress(t *Task, roster fleet.Roster, arriveRadius float64) (p Progress, present, finished int) {
	var (
		agentSum float64
		resSum   float64
		coordSum float64
		coordN   int
	)
	required := 0
	if t.Intent.Count > 0 && t.Intent.Item != "" {
		required = t.Intent.Count
	}

	for _, id := range t.assigned {
		s, ok := roster.Lookup(id)
		if !ok || !s.Connected {
			agentSum += scoreGone
			continue
		}
		present++
		score := agentScore(s, t)
		agentSum += score
		if score == scoreDone {
			finished++
		}

		if required > 0 {
			have := s.Inventory[t.Intent.Item]
			resSum += clampPct(float64(have) / float64(required) * 100)
		}
		if t.Intent.Location != nil {
			if base, ok := t.baseline[id]; ok {
				coordN++
				cur := s.Pos.DistXZ(*t.Intent.Location)
				switch {
				case base <= arriveRadius || cur <= arriveRadius:
					coordSum += 100
				case cur >= base:
					// No closer yet.
				default:
					coordSum += (base - cur) / base * 100
				}
			}
		}
	}

	n := len(t.assigned)
	if n == 0 {
		return p, 0, 0
	}

	p.Agent = clampPct(agentSum / float64(n))
	weightSum := weightAgent
	overall := p.Agent * weightAgent

	if required > 0 && present > 0 {
		p.HasResource = true
		p.Resource = clampPct(resSum / float64(present))
		overall += p.Resource * weightResource
		weightSum += weightResource
	}
	if t.Intent.Location != nil && coordN > 0 {
		p.HasCoordinate = true
		p.Coordinate = clampPct(coordSum / float64(coordN))
		overall += p.Coordinate * weightCoordinate
		weightSum += weightCoordinate
	}
	p.Overall = clampPct(overall / weightSum)
	return p, present, finished
}
