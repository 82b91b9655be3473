// Package orchestrator turns free-text operator commands into fleet
// directives and tracks each resulting task's weighted progress until
// it completes or fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/fleet/tuning"
)

var (
	ErrEmptyCommand = errors.New("orchestrator: empty command")
	ErrNoCategory   = errors.New("orchestrator: no actionable category")
	ErrUnauthorized = errors.New("orchestrator: unauthorized")
)

// PrivilegedHandler executes an authorized privileged command and
// returns an operator-facing report. The hub wires shutdown and spawn
// here; without a handler the command is acknowledged and dropped.
type PrivilegedHandler func(ctx context.Context, principal string, in Intent) (string, error)

// AuditFunc records security-relevant decisions: privileged commands,
// rejections, admin-set changes.
type AuditFunc func(principal, action, detail string)

type Config struct {
	Fleet      *fleet.Manager
	Catalogs   *catalogs.Catalogs
	Tuning     tuning.Tuning
	Logger     *log.Logger
	ChatLog    *fleet.ChatLog
	Audit      AuditFunc
	Privileged PrivilegedHandler

	// OnUpdate receives a snapshot after task creation, every progress
	// recompute and each terminal transition. The hub hangs its task
	// index and event log off this.
	OnUpdate func(TaskSnapshot)
}

// CommandResult is the synchronous answer to one command. Task-creating
// commands carry the task id; status and privileged commands carry a
// report instead.
type CommandResult struct {
	TaskID   string `json:"task_id,omitempty"`
	Report   string `json:"report,omitempty"`
	Accepted int    `json:"accepted,omitempty"`
}

type Stats struct {
	CommandsTotal    int `json:"commands_total"`
	CommandsRejected int `json:"commands_rejected"`
	TasksCreated     int `json:"tasks_created"`
	TasksRunning     int `json:"tasks_running"`
	TasksCompleted   int `json:"tasks_completed"`
	TasksFailed      int `json:"tasks_failed"`
}

type Orchestrator struct {
	fleet    *fleet.Manager
	cats     *catalogs.Catalogs
	tune     tuning.Tuning
	logger   *log.Logger
	chatlog  *fleet.ChatLog
	auditFn  AuditFunc
	priv     PrivilegedHandler
	onUpdate func(TaskSnapshot)

	mu     sync.Mutex
	tasks  map[string]*Task
	order  []string
	admins map[string]bool
	stats  Stats

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Fleet == nil {
		return nil, fmt.Errorf("orchestrator: nil fleet manager")
	}
	if cfg.Catalogs == nil {
		return nil, fmt.Errorf("orchestrator: nil catalogs")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("orchestrator: nil logger")
	}
	admins := make(map[string]bool, len(cfg.Tuning.Orchestrator.Admins))
	for _, p := range cfg.Tuning.Orchestrator.Admins {
		admins[p] = true
	}
	return &Orchestrator{
		fleet:    cfg.Fleet,
		cats:     cfg.Catalogs,
		tune:     cfg.Tuning,
		logger:   cfg.Logger,
		chatlog:  cfg.ChatLog,
		auditFn:  cfg.Audit,
		priv:     cfg.Privileged,
		onUpdate: cfg.OnUpdate,
		tasks:    map[string]*Task{},
		admins:   admins,
		closed:   make(chan struct{}),
	}, nil
}

// Close stops every progress timer and waits for them to drain. Tasks
// keep their last status; nothing is force-failed on shutdown.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.closed) })
	o.wg.Wait()
}

// Command parses one free-text order from principal and acts on it.
// Status queries and privileged commands answer synchronously; anything
// else creates a task, dispatches directives and starts its progress
// interval.
func (o *Orchestrator) Command(ctx context.Context, principal, text string) (*CommandResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyCommand
	}
	in := Extract(text, o.cats, o.fleet)

	o.mu.Lock()
	o.stats.CommandsTotal++
	o.mu.Unlock()

	if in.Privileged {
		if !o.isAdmin(principal) {
			o.reject(principal, text, "privileged "+in.Category+" denied")
			return nil, ErrUnauthorized
		}
		o.audit(principal, "privileged."+in.Category, text)
		if o.priv == nil {
			return &CommandResult{Report: in.Category + " acknowledged, nothing wired to it here"}, nil
		}
		report, err := o.priv(ctx, principal, in)
		if err != nil {
			return nil, err
		}
		return &CommandResult{Report: report}, nil
	}

	if in.Category == "" {
		o.reject(principal, text, "no actionable category")
		return nil, ErrNoCategory
	}
	if in.Category == "status" {
		return &CommandResult{Report: o.statusReport()}, nil
	}

	t := newTask(uuid.NewString(), text, principal, in)
	accepted := o.dispatch(t, in)

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.order = append(o.order, t.ID)
	o.stats.TasksCreated++
	o.mu.Unlock()

	if accepted == 0 {
		t.finish(StatusFailed, "no agent accepted the order")
		o.tally(StatusFailed)
		o.notify(t)
		o.logger.Printf("task %s: %q dispatched to nobody", t.ID, text)
		return &CommandResult{TaskID: t.ID, Accepted: 0}, nil
	}

	t.mu.Lock()
	t.status = StatusRunning
	t.updated = time.Now()
	t.mu.Unlock()
	o.notify(t)

	if o.chatlog != nil {
		o.chatlog.Append(principal, text)
	}
	o.logger.Printf("task %s: %q -> %s for %d agents", t.ID, text, in.Category, accepted)

	o.wg.Add(1)
	go o.runTask(t)

	return &CommandResult{TaskID: t.ID, Accepted: accepted}, nil
}

// dispatch submits the directive to every target and records who took
// it, plus each taker's starting distance when a destination exists.
func (o *Orchestrator) dispatch(t *Task, in Intent) int {
	d := fleet.Directive{
		TaskID:   t.ID,
		Category: in.Category,
		Item:     in.Item,
		Count:    in.Count,
		Dest:     in.Location,
		TargetID: in.TargetID,
	}
	accepted := 0
	for _, a := range o.resolveTargets(in) {
		if err := a.Submit(d); err != nil {
			o.logger.Printf("task %s: %v", t.ID, err)
			continue
		}
		t.assigned = append(t.assigned, a.ID())
		if in.Location != nil {
			t.baseline[a.ID()] = a.Snapshot().Pos.DistXZ(*in.Location)
		}
		accepted++
	}
	return accepted
}

// resolveTargets picks the agents an intent addresses: the ones named,
// or the whole fleet when none are (and always the whole fleet for an
// explicit all). A follow target never follows itself.
func (o *Orchestrator) resolveTargets(in Intent) []*fleet.Agent {
	var refs []string
	if len(in.Agents) > 0 && !in.All {
		refs = in.Agents
	} else {
		for _, s := range o.fleet.List() {
			refs = append(refs, s.ID)
		}
	}
	out := make([]*fleet.Agent, 0, len(refs))
	for _, ref := range refs {
		if in.Category == "follow" && ref == in.TargetID {
			continue
		}
		if a, ok := o.fleet.Get(ref); ok {
			out = append(out, a)
		}
	}
	return out
}

func (o *Orchestrator) runTask(t *Task) {
	defer o.wg.Done()
	interval := time.Duration(o.tune.ProgressIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.closed:
			return
		case <-t.done:
			return
		case <-ticker.C:
			o.stepTask(t)
		}
	}
}

// stepTask recomputes progress once and applies lifecycle transitions.
// Overall progress never regresses while the task runs; a failed task
// keeps its last numbers.
func (o *Orchestrator) stepTask(t *Task) {
	t.mu.Lock()
	if t.status != StatusRunning {
		t.mu.Unlock()
		return
	}
	p, present, finished := computeProgress(t, o.fleet, float64(o.tune.Navigation.ArriveRadius))
	if p.Overall < t.progress.Overall {
		p.Overall = t.progress.Overall
	}

	var (
		status Status
		reason string
	)
	deadline := time.Duration(o.tune.Orchestrator.TaskDeadlineS) * time.Second
	switch {
	case present == 0:
		status, reason = StatusFailed, "all assigned agents left the fleet"
	case finished == present:
		status = StatusCompleted
		p.Overall = 100
	case deadline > 0 && time.Since(t.CreatedAt) > deadline:
		status, reason = StatusFailed, "deadline exceeded"
	}
	t.progress = p
	t.updated = time.Now()
	t.mu.Unlock()

	if status != "" && t.finish(status, reason) {
		o.tally(status)
		o.logger.Printf("task %s: %s %s", t.ID, status, reason)
	}
	o.notify(t)
}

func (o *Orchestrator) notify(t *Task) {
	if o.onUpdate != nil {
		o.onUpdate(t.Snapshot())
	}
}

// Recompute forces one progress update outside the timer, so callers
// can observe fresh numbers deterministically.
func (o *Orchestrator) Recompute(id string) (TaskSnapshot, bool) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return TaskSnapshot{}, false
	}
	o.stepTask(t)
	return t.Snapshot(), true
}

func (o *Orchestrator) Task(id string) (TaskSnapshot, bool) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.Snapshot(), true
}

// Tasks lists every task in creation order.
func (o *Orchestrator) Tasks() []TaskSnapshot {
	o.mu.Lock()
	ts := make([]*Task, 0, len(o.order))
	for _, id := range o.order {
		ts = append(ts, o.tasks[id])
	}
	o.mu.Unlock()

	out := make([]TaskSnapshot, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Snapshot())
	}
	return out
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.stats
	for _, t := range o.tasks {
		if t.Status() == StatusRunning {
			s.TasksRunning++
		}
	}
	return s
}

// Admin set operations. Every mutation requires an authorized caller
// and lands in the audit trail.

func (o *Orchestrator) Admins() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.admins))
	for p := range o.admins {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) AddAdmin(principal, grantee string) error {
	if grantee == "" {
		return fmt.Errorf("orchestrator: empty principal")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admins[principal] {
		o.stats.CommandsRejected++
		o.audit(principal, "admin.add.denied", grantee)
		return ErrUnauthorized
	}
	o.admins[grantee] = true
	o.audit(principal, "admin.add", grantee)
	return nil
}

func (o *Orchestrator) RemoveAdmin(principal, target string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.admins[principal] {
		o.stats.CommandsRejected++
		o.audit(principal, "admin.remove.denied", target)
		return ErrUnauthorized
	}
	if !o.admins[target] {
		return fmt.Errorf("orchestrator: %s is not an admin", target)
	}
	if len(o.admins) == 1 {
		return fmt.Errorf("orchestrator: cannot remove the last admin")
	}
	delete(o.admins, target)
	o.audit(principal, "admin.remove", target)
	return nil
}

func (o *Orchestrator) isAdmin(principal string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.admins[principal]
}

func (o *Orchestrator) reject(principal, text, why string) {
	o.mu.Lock()
	o.stats.CommandsRejected++
	o.mu.Unlock()
	o.audit(principal, "command.rejected", why+": "+text)
	o.logger.Printf("command from %s rejected: %s", principal, why)
}

func (o *Orchestrator) audit(principal, action, detail string) {
	if o.auditFn != nil {
		o.auditFn(principal, action, detail)
	}
}

func (o *Orchestrator) tally(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch s {
	case StatusCompleted:
		o.stats.TasksCompleted++
	case StatusFailed:
		o.stats.TasksFailed++
	}
}

// statusReport is the answer to a status command: one line per agent
// with state, vitals and the top of its inventory.
func (o *Orchestrator) statusReport() string {
	snaps := o.fleet.List()
	running := 0
	o.mu.Lock()
	for _, t := range o.tasks {
		if t.Status() == StatusRunning {
			running++
		}
	}
	o.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%d agents, %d tasks running", len(snaps), running)
	for _, s := range snaps {
		fmt.Fprintf(&b, "\n%s: %s hp=%d hunger=%d%s", s.Name, s.State, s.HP, s.Hunger, invSummary(s.Inventory))
	}
	return b.String()
}

// invSummary renders the three largest stacks, largest first.
func invSummary(inv map[string]int) string {
	if len(inv) == 0 {
		return ""
	}
	type stack struct {
		item  string
		count int
	}
	stacks := make([]stack, 0, len(inv))
	for item, n := range inv {
		stacks = append(stacks, stack{item, n})
	}
	sort.Slice(stacks, func(i, j int) bool {
		if stacks[i].count != stacks[j].count {
			return stacks[i].count > stacks[j].count
		}
		return stacks[i].item < stacks[j].item
	})
	if len(stacks) > 3 {
		stacks = stacks[:3]
	}
	parts := make([]string, len(stacks))
	for i, s := range stacks {
		parts[i] = fmt.Sprintf("%s:%d", s.item, s.count)
	}
	return " [" + strings.Join(parts, " ") + "]"
}
