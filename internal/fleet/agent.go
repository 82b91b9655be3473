package fleet

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/fleet/tuning"
	"fleetmind.ai/internal/protocol"
)

// AgentConfig wires one agent to its world connection and shared fleet
// services. World, Roster, Catalogs and Logger are required.
type AgentConfig struct {
	Name     string
	World    WorldClient
	Roster   Roster
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	Logger   *log.Logger
	ChatLog  *ChatLog
	Seed     int64
}

// Agent is one autonomous actor. All behavior state is owned by the
// tick goroutine; the mutex guards only the team set and the published
// snapshot. Directives arrive through a buffered inbox drained at the
// start of each tick.
type Agent struct {
	id     string
	name   string
	world  WorldClient
	roster Roster
	tune   tuning.Tuning
	cats   *catalogs.Catalogs
	logger *log.Logger
	chatln *ChatLog
	rng    *rand.Rand

	directives chan Directive
	stopc      chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	mu   sync.Mutex
	team map[string]bool
	snap Snapshot

	// Tick-goroutine state below. Never read or written off-loop.
	state       State
	nav         *navigator
	chat        *chatThrottle
	directive   *Directive
	followID    string
	needsBasics bool
	sleepForced bool
	exploreHops int
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.World == nil {
		return nil, fmt.Errorf("agent: nil world client")
	}
	if cfg.Roster == nil {
		return nil, fmt.Errorf("agent: nil roster")
	}
	if cfg.Catalogs == nil {
		return nil, fmt.Errorf("agent: nil catalogs")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("agent: nil logger")
	}
	name := cfg.Name
	if name == "" {
		name = cfg.World.Name()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &Agent{
		id:          cfg.World.AgentID(),
		name:        name,
		world:       cfg.World,
		roster:      cfg.Roster,
		tune:        cfg.Tuning,
		cats:        cfg.Catalogs,
		logger:      cfg.Logger,
		chatln:      cfg.ChatLog,
		rng:         rand.New(rand.NewSource(seed)),
		directives:  make(chan Directive, 16),
		stopc:       make(chan struct{}),
		done:        make(chan struct{}),
		team:        map[string]bool{},
		state:       StateIdle,
		nav:         newNavigator(time.Duration(cfg.Tuning.GoalTimeoutMs) * time.Millisecond),
		chat:        newChatThrottle(time.Duration(cfg.Tuning.Social.ChatCooldownMs) * time.Millisecond),
		needsBasics: true,
	}
	a.snap = Snapshot{ID: a.id, Name: a.name, State: StateIdle, Connected: true, UpdatedAt: time.Now()}
	return a, nil
}

func (a *Agent) ID() string   { return a.id }
func (a *Agent) Name() string { return a.name }

// Snapshot returns the last published view of this agent.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// Submit queues a directive for the next tick. It never blocks; a full
// inbox rejects the directive so a wedged agent cannot stall dispatch.
func (a *Agent) Submit(d Directive) error {
	select {
	case a.directives <- d:
		return nil
	default:
		return fmt.Errorf("agent %s: directive inbox full", a.name)
	}
}

// AddTeammate and RemoveTeammate maintain the mutual team set. They are
// called from other agents' join/leave paths, hence the lock.
func (a *Agent) AddTeammate(id string) {
	if id == a.id {
		return
	}
	a.mu.Lock()
	a.team[id] = true
	a.mu.Unlock()
}

func (a *Agent) RemoveTeammate(id string) {
	a.mu.Lock()
	delete(a.team, id)
	a.mu.Unlock()
}

// Run drives the tick loop until the context ends or Stop is called.
// Ticks never overlap: the next fires only after the previous returns.
func (a *Agent) Run(ctx context.Context) {
	defer close(a.done)
	defer a.disconnect()

	interval := time.Duration(a.tune.TickIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopc:
			return
		case <-ticker.C:
			a.StepOnce(ctx)
		}
	}
}

// Stop ends the tick loop. Safe to call more than once.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopc) })
	<-a.done
}

func (a *Agent) disconnect() {
	_ = a.world.Close()
	a.mu.Lock()
	a.snap.Connected = false
	a.snap.UpdatedAt = time.Now()
	a.mu.Unlock()
}

// StepOnce executes exactly one behavior tick. Exported so tests can
// drive an agent deterministically without the timer.
func (a *Agent) StepOnce(ctx context.Context) {
	obs, ok := a.world.Obs()
	if !ok {
		return
	}
	a.runTick(ctx, obs)
	// Publish against the freshest frame so the snapshot reflects what
	// this tick's actions changed.
	if o, ok := a.world.Obs(); ok {
		obs = o
	}
	a.publish(obs)
}

// runTick contains the panic boundary: a failure in any behavior step
// logs, clears the goal and lands the agent in idle instead of leaving
// it wedged with a dangling goal.
func (a *Agent) runTick(ctx context.Context, obs protocol.ObsMsg) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Printf("agent %s: tick panic: %v", a.name, r)
			a.nav.clear(ctx, a.world)
			a.state = StateIdle
		}
	}()

	a.drainDirectives(ctx)

	if a.stepSurvival(ctx, obs) {
		return
	}
	a.stepBehavior(ctx, obs)
}

func (a *Agent) stepBehavior(ctx context.Context, obs protocol.ObsMsg) {
	if a.directive != nil {
		a.stepDirective(ctx, obs)
		return
	}
	if a.followID != "" {
		a.stepFollow(ctx, obs)
		return
	}
	if a.needsBasics {
		a.stepProgression(ctx, obs)
		return
	}
	// Nothing assigned and bootstrap complete. Transient states decay
	// back to idle; exploring keeps wandering until redirected.
	switch a.state {
	case StateExploring:
		a.stepExplore(ctx, obs)
	case StateIdle:
	default:
		a.toIdle(ctx)
	}
}

func (a *Agent) drainDirectives(ctx context.Context) {
	for {
		select {
		case d := <-a.directives:
			a.acceptDirective(ctx, d)
		default:
			return
		}
	}
}

// acceptDirective validates and installs one directive. Invalid
// directives are rejected in place (chat + log) and mutate nothing.
func (a *Agent) acceptDirective(ctx context.Context, d Directive) {
	switch d.Category {
	case "stop":
		a.directive = nil
		a.followID = ""
		a.sleepForced = false
		a.toIdle(ctx)
		return
	case "follow":
		peer, ok := a.lookupPeer(d.TargetID)
		if !ok {
			a.say(ctx, "reject-follow", fmt.Sprintf("cannot follow %q: unknown agent", d.TargetID))
			a.logger.Printf("agent %s: rejected follow target %q", a.name, d.TargetID)
			return
		}
		a.followID = peer.ID
		d.TargetID = peer.ID
		a.directive = &d
		return
	case "sleep":
		a.sleepForced = true
		a.directive = &d
		return
	}

	a.followID = ""
	a.sleepForced = false
	a.exploreHops = 0
	a.directive = &d
}

// lookupPeer resolves a follow target, by id or name, to a known,
// distinct, connected agent.
func (a *Agent) lookupPeer(ref string) (Snapshot, bool) {
	if ref == "" || ref == a.id || ref == a.name {
		return Snapshot{}, false
	}
	s, ok := a.roster.Lookup(ref)
	if !ok || !s.Connected || s.ID == a.id {
		return Snapshot{}, false
	}
	return s, true
}

func (a *Agent) stepDirective(ctx context.Context, obs protocol.ObsMsg) {
	d := a.directive
	switch d.Category {
	case "gather":
		a.stepGather(ctx, obs)
	case "mine":
		a.stepMineDirective(ctx, obs)
	case "craft":
		a.stepCraftDirective(ctx, obs)
	case "move":
		a.stepMoveDirective(ctx, obs)
	case "explore":
		a.stepExploreDirective(ctx, obs)
	case "attack":
		a.stepAttackDirective(ctx, obs)
	case "follow":
		a.stepFollow(ctx, obs)
	case "sleep":
		// Handled by the survival pass while sleepForced is set; once
		// asleep there is nothing more to drive here.
		if a.state != StateSleeping && a.state != StateMovingToSleep {
			a.stepSleepApproach(ctx, obs)
		}
	default:
		a.logger.Printf("agent %s: unknown directive category %q", a.name, d.Category)
		a.directive = nil
		a.toIdle(ctx)
	}
}

// finishDirective clears the current assignment and returns to idle.
func (a *Agent) finishDirective(ctx context.Context) {
	a.directive = nil
	a.sleepForced = false
	a.toIdle(ctx)
}

func (a *Agent) toIdle(ctx context.Context) {
	a.nav.clear(ctx, a.world)
	a.state = StateIdle
}

// failToIdle is the transient-failure path: log, clear goal, idle.
func (a *Agent) failToIdle(ctx context.Context, why string) {
	a.logger.Printf("agent %s: %s", a.name, why)
	a.nav.clear(ctx, a.world)
	a.state = StateIdle
}

// say emits throttled chat and mirrors it into the shared chat log.
func (a *Agent) say(ctx context.Context, topic, text string) {
	if !a.chat.allow(topic) {
		return
	}
	if err := a.world.Say(ctx, text); err != nil {
		a.logger.Printf("agent %s: say failed: %v", a.name, err)
		return
	}
	if a.chatln != nil {
		a.chatln.Append(a.name, text)
	}
}

func (a *Agent) publish(obs protocol.ObsMsg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap = Snapshot{
		ID:            a.id,
		Name:          a.name,
		State:         a.state,
		Pos:           Vec3i(obs.Self.Pos),
		HP:            obs.Self.HP,
		Hunger:        obs.Self.Hunger,
		Inventory:     invMap(obs),
		Equipment:     obs.Equipment,
		Goal:          a.nav.active(),
		TaskID:        a.taskID(),
		Team:          sortedIDs(a.team),
		Bootstrapping: a.needsBasics,
		Connected:     true,
		UpdatedAt:     time.Now(),
	}
}

func (a *Agent) taskID() string {
	if a.directive == nil {
		return ""
	}
	return a.directive.TaskID
}

// Observation helpers. Blocks and entities come radius-limited in each
// OBS frame, so predicate searches are plain scans.

func invMap(obs protocol.ObsMsg) map[string]int {
	m := make(map[string]int, len(obs.Inventory))
	for _, s := range obs.Inventory {
		m[s.Item] += s.Count
	}
	return m
}

func invCount(obs protocol.ObsMsg, item string) int {
	if item == "" {
		return 0
	}
	n := 0
	for _, s := range obs.Inventory {
		if s.Item == item {
			n += s.Count
		}
	}
	return n
}

func selfPos(obs protocol.ObsMsg) Vec3i {
	return Vec3i(obs.Self.Pos)
}

// nearestBlock returns the closest observed block matching pred within
// maxDist, or false when none qualifies.
func nearestBlock(obs protocol.ObsMsg, maxDist float64, pred func(protocol.BlockObs) bool) (protocol.BlockObs, bool) {
	var (
		best  protocol.BlockObs
		bestD = maxDist
		found bool
	)
	self := selfPos(obs)
	for _, b := range obs.Blocks {
		if !pred(b) {
			continue
		}
		d := self.Dist(Vec3i(b.Pos))
		if !found || d < bestD {
			if d <= maxDist {
				best, bestD, found = b, d, true
			}
		}
	}
	return best, found
}

func findEntity(obs protocol.ObsMsg, id string) (protocol.EntityObs, bool) {
	for _, e := range obs.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return protocol.EntityObs{}, false
}

// nearestEntity returns the closest entity matching pred within maxDist.
func nearestEntity(obs protocol.ObsMsg, maxDist float64, pred func(protocol.EntityObs) bool) (protocol.EntityObs, bool) {
	var (
		best  protocol.EntityObs
		bestD = maxDist
		found bool
	)
	self := selfPos(obs)
	for _, e := range obs.Entities {
		if !pred(e) {
			continue
		}
		d := self.Dist(Vec3i(e.Pos))
		if !found || d < bestD {
			if d <= maxDist {
				best, bestD, found = e, d, true
			}
		}
	}
	return best, found
}
