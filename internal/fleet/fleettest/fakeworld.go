// Package fleettest drives agents against an in-memory world double.
// Tests here go through exported fleet APIs only.
package fleettest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/protocol"
)

type fakeTask struct {
	kind   string
	status fleet.TaskStatus
	code   string

	recipeID string
	count    int
}

// FakeWorld implements fleet.WorldClient over a mutable world model.
// Every submission is counted so tests can assert exactly how often the
// movement primitive was exercised. Task outcomes are scripted: MINE
// and MOVE can auto-complete with their world effects applied, CRAFT
// resolves during AwaitTask against the real recipe catalog, FOLLOW
// stays pending until the test finishes it.
type FakeWorld struct {
	mu sync.Mutex

	id   string
	name string
	cats *catalogs.Catalogs

	tick       uint64
	pos        fleet.Vec3i
	hp         int
	hunger     int
	saturation float64
	night      bool
	inv        map[string]int
	hand       string
	blocks     map[fleet.Vec3i]string
	entities   map[string]protocol.EntityObs

	seq   int
	tasks map[string]*fakeTask
	last  string

	// Submission and instant counters.
	MoveSubmits   int
	FollowSubmits int
	MineSubmits   int
	CraftSubmits  int
	StopCalls     int
	Says          []string
	Consumed      []string
	Equipped      []string
	SleptAt       []fleet.Vec3i
	Attacked      []string

	// Synchronous rejections: the next matching call errors.
	RejectMove    bool
	RejectCraft   bool
	RejectSleep   bool
	RejectConsume bool

	// Async failure codes applied to the next started task of a kind.
	FailNextMove   string
	FailNextMine   string
	FailNextFollow string
	FailNextCraft  string

	// Auto-completion of world effects on submit.
	AutoMine bool
	AutoMove bool
}

func NewFakeWorld(id, name string, cats *catalogs.Catalogs) *FakeWorld {
	return &FakeWorld{
		id:         id,
		name:       name,
		cats:       cats,
		pos:        fleet.Vec3i{0, 64, 0},
		hp:         20,
		hunger:     20,
		saturation: 5,
		inv:        map[string]int{},
		blocks:     map[fleet.Vec3i]string{},
		entities:   map[string]protocol.EntityObs{},
		tasks:      map[string]*fakeTask{},
	}
}

func (w *FakeWorld) AgentID() string { return w.id }
func (w *FakeWorld) Name() string    { return w.name }

// Model mutators for test setup.

func (w *FakeWorld) SetPos(p fleet.Vec3i) {
	w.mu.Lock()
	w.pos = p
	w.mu.Unlock()
}

func (w *FakeWorld) SetVitals(hp, hunger int, saturation float64) {
	w.mu.Lock()
	w.hp, w.hunger, w.saturation = hp, hunger, saturation
	w.mu.Unlock()
}

func (w *FakeWorld) SetNight(night bool) {
	w.mu.Lock()
	w.night = night
	w.mu.Unlock()
}

func (w *FakeWorld) AddInventory(item string, n int) {
	w.mu.Lock()
	w.inv[item] += n
	if w.inv[item] <= 0 {
		delete(w.inv, item)
	}
	w.mu.Unlock()
}

func (w *FakeWorld) InvCount(item string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inv[item]
}

func (w *FakeWorld) SetBlock(p fleet.Vec3i, block string) {
	w.mu.Lock()
	if block == "" || block == "AIR" {
		delete(w.blocks, p)
	} else {
		w.blocks[p] = block
	}
	w.mu.Unlock()
}

func (w *FakeWorld) AddEntity(id, typ, name string, p fleet.Vec3i) {
	w.mu.Lock()
	w.entities[id] = protocol.EntityObs{ID: id, Type: typ, Name: name, Pos: [3]int(p)}
	w.mu.Unlock()
}

func (w *FakeWorld) RemoveEntity(id string) {
	w.mu.Lock()
	delete(w.entities, id)
	w.mu.Unlock()
}

// LastTaskID is the most recently started task.
func (w *FakeWorld) LastTaskID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// FinishTask marks a pending task done. Movement tasks teleport the
// agent to wherever the test placed it beforehand; the fake does not
// simulate walking.
func (w *FakeWorld) FinishTask(id string) {
	w.mu.Lock()
	if t, ok := w.tasks[id]; ok {
		t.status = fleet.TaskDone
	}
	w.mu.Unlock()
}

func (w *FakeWorld) FailTask(id, code string) {
	w.mu.Lock()
	if t, ok := w.tasks[id]; ok {
		t.status = fleet.TaskFailed
		t.code = code
	}
	w.mu.Unlock()
}

// Observation.

func (w *FakeWorld) Obs() (protocol.ObsMsg, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tick++

	inv := make([]protocol.ItemStack, 0, len(w.inv))
	for item, n := range w.inv {
		inv = append(inv, protocol.ItemStack{Item: item, Count: n})
	}
	sort.Slice(inv, func(i, j int) bool { return inv[i].Item < inv[j].Item })

	blocks := make([]protocol.BlockObs, 0, len(w.blocks))
	for p, b := range w.blocks {
		blocks = append(blocks, protocol.BlockObs{Pos: [3]int(p), Block: b})
	}
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i].Pos, blocks[j].Pos
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})

	ents := make([]protocol.EntityObs, 0, len(w.entities))
	for _, e := range w.entities {
		ents = append(ents, e)
	}
	sort.Slice(ents, func(i, j int) bool { return ents[i].ID < ents[j].ID })

	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            w.tick,
		AgentID:         w.id,
		World:           protocol.WorldObs{IsNight: w.night},
		Self: protocol.SelfObs{
			Pos:        [3]int(w.pos),
			HP:         w.hp,
			Hunger:     w.hunger,
			Saturation: w.saturation,
		},
		Inventory: inv,
		Equipment: protocol.EquipmentObs{Hand: w.hand},
		Blocks:    blocks,
		Entities:  ents,
	}, true
}

// Instants.

func (w *FakeWorld) Say(_ context.Context, text string) error {
	w.mu.Lock()
	w.Says = append(w.Says, text)
	w.mu.Unlock()
	return nil
}

func (w *FakeWorld) Equip(_ context.Context, itemID, slot string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inv[itemID] == 0 {
		return fmt.Errorf("equip %s: %s", itemID, protocol.ErrNoResource)
	}
	if slot == "hand" {
		w.hand = itemID
	}
	w.Equipped = append(w.Equipped, itemID)
	return nil
}

func (w *FakeWorld) Consume(_ context.Context, itemID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RejectConsume {
		return fmt.Errorf("consume %s: %s", itemID, protocol.ErrBadRequest)
	}
	if w.inv[itemID] == 0 {
		return fmt.Errorf("consume %s: %s", itemID, protocol.ErrNoResource)
	}
	w.inv[itemID]--
	if w.inv[itemID] == 0 {
		delete(w.inv, itemID)
	}
	if def, ok := w.cats.Items.Defs[itemID]; ok {
		w.hunger += def.EdibleRestore
		if w.hunger > 20 {
			w.hunger = 20
		}
		w.saturation += float64(def.EdibleRestore) / 2
	}
	w.Consumed = append(w.Consumed, itemID)
	return nil
}

func (w *FakeWorld) SleepAt(_ context.Context, bedPos fleet.Vec3i) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RejectSleep {
		return fmt.Errorf("sleep: %s", protocol.ErrBadRequest)
	}
	if w.blocks[bedPos] != w.cats.Progression.BedItem {
		return fmt.Errorf("sleep: %s", protocol.ErrInvalidTarget)
	}
	w.SleptAt = append(w.SleptAt, bedPos)
	return nil
}

func (w *FakeWorld) Attack(_ context.Context, targetID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[targetID]; !ok {
		return fmt.Errorf("attack: %s", protocol.ErrInvalidTarget)
	}
	w.Attacked = append(w.Attacked, targetID)
	return nil
}

// Tasks.

func (w *FakeWorld) newTask(kind string, failCode string) *fakeTask {
	w.seq++
	t := &fakeTask{kind: kind, status: fleet.TaskPending}
	if failCode != "" {
		t.status = fleet.TaskFailed
		t.code = failCode
	}
	id := fmt.Sprintf("t-%d", w.seq)
	w.tasks[id] = t
	w.last = id
	return t
}

func (w *FakeWorld) StartMove(_ context.Context, dest fleet.Vec3i, _ float64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RejectMove {
		return "", fmt.Errorf("move: %s", protocol.ErrBadRequest)
	}
	w.MoveSubmits++
	t := w.newTask("MOVE_TO", w.FailNextMove)
	w.FailNextMove = ""
	if t.status == fleet.TaskPending && w.AutoMove {
		w.pos = dest
		t.status = fleet.TaskDone
	}
	return w.last, nil
}

func (w *FakeWorld) StartFollow(_ context.Context, _ string, _ float64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.FollowSubmits++
	w.newTask("FOLLOW", w.FailNextFollow)
	w.FailNextFollow = ""
	return w.last, nil
}

func (w *FakeWorld) StartMine(_ context.Context, blockPos fleet.Vec3i) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.MineSubmits++
	t := w.newTask("MINE", w.FailNextMine)
	w.FailNextMine = ""
	if t.status == fleet.TaskPending && w.AutoMine {
		block, ok := w.blocks[blockPos]
		if !ok {
			t.status = fleet.TaskFailed
			t.code = protocol.ErrInvalidTarget
			return w.last, nil
		}
		if def, has := w.cats.Blocks.Defs[block]; has && def.DropsItem != "" {
			w.inv[def.DropsItem]++
		}
		delete(w.blocks, blockPos)
		w.pos = fleet.Vec3i{blockPos[0], blockPos[1], blockPos[2] + 1}
		t.status = fleet.TaskDone
	}
	return w.last, nil
}

func (w *FakeWorld) StartCraft(_ context.Context, recipeID string, count int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.RejectCraft {
		return "", fmt.Errorf("craft: %s", protocol.ErrBadRequest)
	}
	w.CraftSubmits++
	w.seq++
	id := fmt.Sprintf("t-%d", w.seq)
	t := &fakeTask{kind: "CRAFT", status: fleet.TaskPending, recipeID: recipeID, count: count}
	if w.FailNextCraft != "" {
		t.status = fleet.TaskFailed
		t.code = w.FailNextCraft
		w.FailNextCraft = ""
	}
	w.tasks[id] = t
	w.last = id
	return id, nil
}

func (w *FakeWorld) StopTasks(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.StopCalls++
	for _, t := range w.tasks {
		if t.status == fleet.TaskPending {
			t.status = fleet.TaskFailed
			t.code = protocol.ErrConflict
		}
	}
	return nil
}

func (w *FakeWorld) TaskState(taskID string) (fleet.TaskStatus, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[taskID]
	if !ok {
		return fleet.TaskUnknown, ""
	}
	if t.status == fleet.TaskFailed {
		return t.status, t.code
	}
	return t.status, ""
}

// AwaitTask resolves CRAFT tasks synchronously: inputs are checked and
// consumed against the recipe catalog, outputs are added. Pending
// non-craft tasks return as failed conflicts to keep tests from
// hanging on a blocking wait.
func (w *FakeWorld) AwaitTask(_ context.Context, taskID string) (fleet.TaskStatus, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tasks[taskID]
	if !ok {
		return fleet.TaskUnknown, "", fmt.Errorf("await %s: unknown task", taskID)
	}
	if t.status != fleet.TaskPending {
		return t.status, t.code, nil
	}
	if t.kind != "CRAFT" {
		return fleet.TaskPending, "", fmt.Errorf("await %s: task still pending", taskID)
	}

	count := t.count
	if count < 1 {
		count = 1
	}
	recipe, ok := w.cats.Recipes.ByID[t.recipeID]
	if !ok {
		t.status = fleet.TaskFailed
		t.code = protocol.ErrBadRequest
		return t.status, t.code, nil
	}
	if recipe.Station != "" && w.inv[recipe.Station] == 0 && !w.blockNearLocked(recipe.Station, 3) {
		t.status = fleet.TaskFailed
		t.code = protocol.ErrBadRequest
		return t.status, t.code, nil
	}
	for _, in := range recipe.Inputs {
		if w.inv[in.Item] < in.Count*count {
			t.status = fleet.TaskFailed
			t.code = protocol.ErrNoResource
			return t.status, t.code, nil
		}
	}
	for _, in := range recipe.Inputs {
		w.inv[in.Item] -= in.Count * count
		if w.inv[in.Item] == 0 {
			delete(w.inv, in.Item)
		}
	}
	for _, out := range recipe.Outputs {
		w.inv[out.Item] += out.Count * count
	}
	t.status = fleet.TaskDone
	return t.status, "", nil
}

func (w *FakeWorld) blockNearLocked(block string, radius float64) bool {
	for p, b := range w.blocks {
		if b == block && w.pos.Dist(p) <= radius {
			return true
		}
	}
	return false
}

func (w *FakeWorld) Close() error { return nil }
