// Package simworld is a compact authoritative world server used for
// development and tests. It speaks the same wire protocol as a real
// game world: agents join over a session that forwards ACT envelopes
// into the world loop and receives one OBS frame per tick.
//
// All world state is owned by the single loop goroutine; sessions talk
// to it exclusively through channels.
package simworld

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/protocol"
)

type Config struct {
	TickRateHz int
	DayTicks   int
	ObsRadius  int
	Seed       int64
}

func (c *Config) fillDefaults() {
	if c.TickRateHz <= 0 {
		c.TickRateHz = 10
	}
	if c.DayTicks <= 0 {
		c.DayTicks = 6000
	}
	if c.ObsRadius <= 0 {
		c.ObsRadius = 16
	}
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	AgentID string
	Act     protocol.ActMsg
}

// ACT frames older than this many ticks are rejected with E_STALE.
const staleTickWindow = 20

type World struct {
	cfg  Config
	cats *catalogs.Catalogs
	log  *log.Logger

	tick       atomic.Uint64
	agentCount atomic.Int64

	terrain *Terrain
	agents  map[string]*Agent
	clients map[string]chan []byte

	inbox chan ActionEnvelope
	join  chan JoinRequest
	leave chan string
	stop  chan struct{}

	nextAgentNum atomic.Uint64
	nextTaskNum  atomic.Uint64
}

func New(cfg Config, cats *catalogs.Catalogs, logger *log.Logger) *World {
	cfg.fillDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[simworld] ", log.LstdFlags)
	}
	return &World{
		cfg:     cfg,
		cats:    cats,
		log:     logger,
		terrain: NewTerrain(cfg.Seed, cats),
		agents:  map[string]*Agent{},
		clients: map[string]chan []byte{},
		inbox:   make(chan ActionEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		stop:    make(chan struct{}),
	}
}

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- string         { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Metrics is a race-free summary for the metrics endpoint. Counts come
// from atomics and channel lengths, never from loop-owned maps.
type Metrics struct {
	Tick   uint64
	Agents int
	Inbox  int
	Joins  int
	Leaves int
}

func (w *World) Metrics() Metrics {
	return Metrics{
		Tick:   w.tick.Load(),
		Agents: int(w.agentCount.Load()),
		Inbox:  len(w.inbox),
		Joins:  len(w.join),
		Leaves: len(w.leave),
	}
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick with the same ordering
// as the server loop. Tests drive the world through this.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, actions []ActionEnvelope) uint64 {
	tick := w.tick.Load()
	w.step(joins, leaves, actions)
	return tick
}

func (w *World) step(joins []JoinRequest, leaves []string, actions []ActionEnvelope) {
	nowTick := w.tick.Load()

	// Leaves and joins apply at the tick boundary, before any actions.
	for _, id := range leaves {
		if _, ok := w.agents[id]; ok {
			delete(w.clients, id)
			delete(w.agents, id)
			w.agentCount.Add(-1)
			w.log.Printf("leave agent_id=%s tick=%d", id, nowTick)
		}
	}
	for _, req := range joins {
		resp := w.joinAgent(req.Name, req.Out)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	// Actions in receive order.
	for _, env := range actions {
		a := w.agents[env.AgentID]
		if a == nil {
			continue
		}
		env.Act.AgentID = env.AgentID // trust session identity
		w.applyAct(a, env.Act, nowTick)
	}

	w.systemMovement(nowTick)
	w.systemWork(nowTick)
	w.systemVitals(nowTick)
	w.systemDayNight(nowTick)

	// One OBS per connected agent per tick.
	for id, a := range w.agents {
		out := w.clients[id]
		if out == nil {
			continue
		}
		obs := w.buildObs(a, nowTick)
		b, err := json.Marshal(obs)
		if err != nil {
			continue
		}
		sendLatest(out, b)
	}

	w.tick.Add(1)
}

func (w *World) joinAgent(name string, out chan []byte) JoinResponse {
	if name == "" {
		name = "agent"
	}
	idNum := w.nextAgentNum.Add(1)
	agentID := fmt.Sprintf("A%d", idNum)

	spawn := Vec3i{int(idNum) * 2, groundY + 1, -int(idNum) * 2}
	a := NewAgent(agentID, name, spawn)
	// Starter rations so fresh worlds demo the eat path.
	a.Inventory["BREAD"] = 2

	w.agents[agentID] = a
	if out != nil {
		w.clients[agentID] = out
	}
	w.agentCount.Add(1)
	w.log.Printf("join agent_id=%s name=%s pos=%v", agentID, name, spawn)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         agentID,
		WorldParams: protocol.WorldParams{
			TickRateHz: w.cfg.TickRateHz,
			DayTicks:   w.cfg.DayTicks,
			ObsRadius:  w.cfg.ObsRadius,
			Seed:       w.cfg.Seed,
		},
		CatalogDigest: w.cats.Digest(),
	}
	return JoinResponse{Welcome: welcome}
}

func (w *World) newTaskID() string {
	n := w.nextTaskNum.Add(1)
	return fmt.Sprintf("T%06d", n)
}

// timeOfDay maps a tick into [0,1); the second half of the cycle is night.
func (w *World) timeOfDay(tick uint64) float64 {
	return float64(tick%uint64(w.cfg.DayTicks)) / float64(w.cfg.DayTicks)
}

func (w *World) isNight(tick uint64) bool {
	return w.timeOfDay(tick) >= 0.5
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
