package simworld

import (
	"sort"

	"fleetmind.ai/internal/protocol"
)

const (
	maxHP     = 20
	maxHunger = 20
)

// Agent is the world-side record for one connected agent. Only the
// world loop goroutine touches it.
type Agent struct {
	ID   string
	Name string
	Pos  Vec3i

	HP         int
	Hunger     int
	Saturation float64

	Inventory map[string]int
	Equipment protocol.EquipmentObs

	Asleep bool
	BedPos Vec3i

	MoveTask *MoveTask
	WorkTask *WorkTask

	events []protocol.Event
	rl     map[string]*rateWindow
}

// MoveTask is the single movement slot: either a fixed target or a
// follow target, never both.
type MoveTask struct {
	TaskID    string
	Kind      string // "MOVE_TO" or "FOLLOW"
	Target    Vec3i
	Tolerance float64
	FollowID  string
	Distance  float64
}

// WorkTask is the single work slot (MINE or CRAFT).
type WorkTask struct {
	TaskID    string
	Kind      string // "MINE" or "CRAFT"
	BlockPos  Vec3i
	RecipeID  string
	Count     int
	WorkTicks int
}

type rateWindow struct {
	StartTick uint64
	Count     int
}

func NewAgent(id, name string, pos Vec3i) *Agent {
	return &Agent{
		ID:         id,
		Name:       name,
		Pos:        pos,
		HP:         maxHP,
		Hunger:     maxHunger,
		Saturation: 5,
		Inventory:  map[string]int{},
		rl:         map[string]*rateWindow{},
	}
}

func (a *Agent) AddEvent(e protocol.Event) {
	a.events = append(a.events, e)
}

func (a *Agent) TakeEvents() []protocol.Event {
	ev := a.events
	a.events = nil
	return ev
}

// RateLimitAllow admits up to max actions of a kind per window ticks.
// On rejection it returns the ticks remaining until the window resets.
func (a *Agent) RateLimitAllow(kind string, nowTick uint64, window uint64, max int) (bool, uint64) {
	rw, ok := a.rl[kind]
	if !ok {
		rw = &rateWindow{StartTick: nowTick}
		a.rl[kind] = rw
	}
	if window == 0 || max <= 0 {
		return true, 0
	}
	if nowTick-rw.StartTick >= window {
		rw.StartTick = nowTick
		rw.Count = 0
	}
	rw.Count++
	if rw.Count <= max {
		return true, 0
	}
	return false, rw.StartTick + window - nowTick
}

func (a *Agent) InventoryList() []protocol.ItemStack {
	out := make([]protocol.ItemStack, 0, len(a.Inventory))
	for item, c := range a.Inventory {
		if c <= 0 {
			continue
		}
		out = append(out, protocol.ItemStack{Item: item, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}
