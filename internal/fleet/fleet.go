// Package fleet runs the per-agent behavior loops: survival overrides,
// staged resource progression, navigation goals and team follow. Each
// agent owns its state on a single tick goroutine; cross-goroutine reads
// go through published snapshots.
package fleet

import (
	"fmt"
	"math"
	"time"

	"fleetmind.ai/internal/protocol"
)

// Vec3i is a block position in world space.
type Vec3i [3]int

func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

func (v Vec3i) Dist(o Vec3i) float64 {
	dx := float64(v[0] - o[0])
	dy := float64(v[1] - o[1])
	dz := float64(v[2] - o[2])
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// DistXZ ignores height. Navigation arrival checks use it so agents on
// uneven ground still count as arrived.
func (v Vec3i) DistXZ(o Vec3i) float64 {
	dx := float64(v[0] - o[0])
	dz := float64(v[2] - o[2])
	return math.Sqrt(dx*dx + dz*dz)
}

func (v Vec3i) String() string {
	return fmt.Sprintf("(%d,%d,%d)", v[0], v[1], v[2])
}

// State is an agent's behavior state. Exactly one is active at a time.
type State string

const (
	StateIdle            State = "idle"
	StateGathering       State = "gathering"
	StateCraftingStation State = "crafting_station"
	StateCraftingTools   State = "crafting_tools"
	StateMovingToSleep   State = "moving_to_sleep"
	StateSleeping        State = "sleeping"
	StateFollowing       State = "following"
	StateMining          State = "mining"
	StateExploring       State = "exploring"
)

// Directive is an assignment handed to an agent by the orchestrator.
// A new directive replaces the agent's current one.
type Directive struct {
	TaskID   string
	Category string

	Item  string
	Count int

	Dest     *Vec3i
	TargetID string
}

// Snapshot is the externally visible view of one agent, published by the
// agent's tick goroutine and safe to read from any goroutine.
type Snapshot struct {
	ID        string
	Name      string
	State     State
	Pos       Vec3i
	HP        int
	Hunger    int
	Inventory map[string]int
	Equipment protocol.EquipmentObs
	Goal      Goal
	TaskID    string
	Team      []string
	// Bootstrapping is true until the basic tool kit is complete.
	Bootstrapping bool
	Connected     bool
	UpdatedAt     time.Time
}

// InvCount returns the count of one item in the snapshot inventory.
func (s Snapshot) InvCount(item string) int {
	return s.Inventory[item]
}
