// Package worldclient maintains one agent's connection to the game
// world. A Session logs in over a websocket, caches the latest
// observation frame, and turns the fire-and-forget wire protocol into
// the blocking action API the fleet consumes: every instant and task
// request carries a ref that is correlated against ACTION_RESULT
// events, and world task lifecycles are tracked from TASK_DONE /
// TASK_FAIL events. Results that arrive for unknown refs are dropped.
package worldclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/protocol"
	"fleetmind.ai/internal/transport/ws"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second

	// Terminal task records kept for TaskState before pruning.
	taskHistoryMax = 256
)

// ActionError is a world-side rejection carrying the protocol code.
type ActionError struct {
	Code    string
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

type actionResult struct {
	OK      bool
	Code    string
	Message string
	TaskID  string
}

type taskRecord struct {
	Status fleet.TaskStatus
	Code   string
}

// Session implements fleet.WorldClient over one websocket connection.
type Session struct {
	conn *websocket.Conn
	log  *log.Logger

	name    string
	agentID string
	welcome protocol.WelcomeMsg

	actionTimeout time.Duration

	obsMu sync.RWMutex
	obs   protocol.ObsMsg
	obsOK bool

	writeMu sync.Mutex

	pmu       sync.Mutex
	pending   map[string]chan actionResult
	tasks     map[string]taskRecord
	taskOrder []string
	waiters   map[string][]chan taskRecord

	nextRef atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Options tunes a session; zero values get sane defaults.
type Options struct {
	ActionTimeout time.Duration
	MaxQueue      int
	Logger        *log.Logger
}

// Login dials the world, performs the HELLO/WELCOME handshake and
// starts the read loop. The returned session is live until Close or a
// connection error.
func Login(ctx context.Context, url, agentName string, opts Options) (*Session, error) {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 3 * time.Second
	}
	if opts.MaxQueue <= 0 {
		opts.MaxQueue = 8
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	conn, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       agentName,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: opts.MaxQueue},
	}
	b, err := json.Marshal(hello)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decode WELCOME: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.AgentID == "" {
		conn.Close()
		return nil, fmt.Errorf("handshake: expected WELCOME, got %q", welcome.Type)
	}
	if welcome.ProtocolVersion != protocol.Version {
		conn.Close()
		return nil, fmt.Errorf("handshake: protocol version %q, want %q", welcome.ProtocolVersion, protocol.Version)
	}

	s := &Session{
		conn:          conn,
		log:           opts.Logger,
		name:          agentName,
		agentID:       welcome.AgentID,
		welcome:       welcome,
		actionTimeout: opts.ActionTimeout,
		pending:       map[string]chan actionResult{},
		tasks:         map[string]taskRecord{},
		waiters:       map[string][]chan taskRecord{},
		closed:        make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) AgentID() string { return s.agentID }
func (s *Session) Name() string    { return s.name }

// WorldParams reports what the world advertised at login.
func (s *Session) WorldParams() protocol.WorldParams { return s.welcome.WorldParams }

// Obs returns the latest cached observation; ok is false until the
// first frame after login.
func (s *Session) Obs() (protocol.ObsMsg, bool) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obs, s.obsOK
}

// Done is closed when the session dies; Err then reports why.
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) Err() error {
	select {
	case <-s.closed:
		return s.closeErr
	default:
		return nil
	}
}

func (s *Session) Close() error {
	s.fail(nil)
	return nil
}

func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
		s.conn.Close()
	})
}

func (s *Session) readLoop() {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeObs {
			continue
		}
		var obs protocol.ObsMsg
		if err := json.Unmarshal(msg, &obs); err != nil {
			continue
		}

		// Correlate events before publishing the frame, so a caller
		// woken by its result sees the observation that carried it.
		for _, ev := range obs.Events {
			s.handleEvent(ev)
		}

		s.obsMu.Lock()
		s.obs = obs
		s.obsOK = true
		s.obsMu.Unlock()
	}
}

func (s *Session) handleEvent(ev protocol.Event) {
	typ, _ := ev["type"].(string)
	switch typ {
	case "ACTION_RESULT":
		ref, _ := ev["ref"].(string)
		if ref == "" {
			return
		}
		res := actionResult{}
		res.OK, _ = ev["ok"].(bool)
		res.Code, _ = ev["code"].(string)
		res.Message, _ = ev["message"].(string)
		res.TaskID, _ = ev["task_id"].(string)

		s.pmu.Lock()
		ch, ok := s.pending[ref]
		if ok {
			delete(s.pending, ref)
		}
		if res.OK && res.TaskID != "" {
			s.recordTaskLocked(res.TaskID, taskRecord{Status: fleet.TaskPending})
		}
		s.pmu.Unlock()
		if !ok {
			return // late or unmatched: dropped
		}
		ch <- res

	case "TASK_DONE":
		id, _ := ev["task_id"].(string)
		if id == "" {
			return
		}
		s.resolveTask(id, taskRecord{Status: fleet.TaskDone})

	case "TASK_FAIL":
		id, _ := ev["task_id"].(string)
		if id == "" {
			return
		}
		code, _ := ev["code"].(string)
		s.resolveTask(id, taskRecord{Status: fleet.TaskFailed, Code: code})
	}
}

// recordTaskLocked inserts or updates a record; pmu must be held.
func (s *Session) recordTaskLocked(id string, rec taskRecord) {
	if _, seen := s.tasks[id]; !seen {
		s.taskOrder = append(s.taskOrder, id)
		if len(s.taskOrder) > taskHistoryMax {
			drop := s.taskOrder[0]
			s.taskOrder = s.taskOrder[1:]
			delete(s.tasks, drop)
		}
	}
	s.tasks[id] = rec
}

func (s *Session) resolveTask(id string, rec taskRecord) {
	s.pmu.Lock()
	s.recordTaskLocked(id, rec)
	waiting := s.waiters[id]
	delete(s.waiters, id)
	s.pmu.Unlock()
	for _, ch := range waiting {
		ch <- rec
	}
}

// TaskState reports the last known status for a world task id.
func (s *Session) TaskState(taskID string) (fleet.TaskStatus, string) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return fleet.TaskUnknown, ""
	}
	return rec.Status, rec.Code
}

// AwaitTask blocks until the task id is terminal or ctx ends.
func (s *Session) AwaitTask(ctx context.Context, taskID string) (fleet.TaskStatus, string, error) {
	s.pmu.Lock()
	rec, ok := s.tasks[taskID]
	if ok && rec.Status != fleet.TaskPending {
		s.pmu.Unlock()
		return rec.Status, rec.Code, nil
	}
	ch := make(chan taskRecord, 1)
	s.waiters[taskID] = append(s.waiters[taskID], ch)
	s.pmu.Unlock()

	select {
	case rec := <-ch:
		return rec.Status, rec.Code, nil
	case <-ctx.Done():
		s.dropWaiter(taskID, ch)
		return fleet.TaskUnknown, "", ctx.Err()
	case <-s.closed:
		s.dropWaiter(taskID, ch)
		return fleet.TaskUnknown, "", s.sessionClosedErr()
	}
}

func (s *Session) dropWaiter(taskID string, ch chan taskRecord) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	waiting := s.waiters[taskID]
	for i, c := range waiting {
		if c == ch {
			s.waiters[taskID] = append(waiting[:i], waiting[i+1:]...)
			break
		}
	}
	if len(s.waiters[taskID]) == 0 {
		delete(s.waiters, taskID)
	}
}

func (s *Session) sessionClosedErr() error {
	if s.closeErr != nil {
		return fmt.Errorf("session closed: %w", s.closeErr)
	}
	return fmt.Errorf("session closed")
}

func (s *Session) newRef() string {
	return fmt.Sprintf("r%06d", s.nextRef.Add(1))
}

// obsTick is the freshest world tick this client has seen; ACT frames
// are stamped with it.
func (s *Session) obsTick() uint64 {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	return s.obs.Tick
}

func (s *Session) sendAct(instants []protocol.InstantReq, tasks []protocol.TaskReq, cancel []string) error {
	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Tick:            s.obsTick(),
		AgentID:         s.agentID,
		Instants:        instants,
		Tasks:           tasks,
		Cancel:          cancel,
	}
	b, err := json.Marshal(act)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.fail(err)
		return fmt.Errorf("send ACT: %w", err)
	}
	return nil
}

// await registers ref before send so the result cannot race the
// registration, then blocks for it.
func (s *Session) await(ctx context.Context, ref string, send func() error) (actionResult, error) {
	ch := make(chan actionResult, 1)
	s.pmu.Lock()
	s.pending[ref] = ch
	s.pmu.Unlock()

	abort := func() {
		s.pmu.Lock()
		delete(s.pending, ref)
		s.pmu.Unlock()
	}

	if err := send(); err != nil {
		abort()
		return actionResult{}, err
	}

	timer := time.NewTimer(s.actionTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		abort()
		return actionResult{}, ctx.Err()
	case <-timer.C:
		abort()
		return actionResult{}, fmt.Errorf("action %s: no result within %s", ref, s.actionTimeout)
	case <-s.closed:
		abort()
		return actionResult{}, s.sessionClosedErr()
	}
}
