// Package indexdb keeps a queryable sqlite read model of the hub's
// activity: one row per orchestrated task (upserted as it progresses),
// plus append-only audit and chat trails. Writes go through a buffered
// channel into a single writer goroutine with batched transactions, so
// the hot paths never block on disk; the zstd JSONL logs remain the
// source of truth when the queue sheds load.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fleetmind.ai/internal/orchestrator"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTaskTotal  atomic.Uint64
	dropAuditTotal atomic.Uint64
	dropChatTotal  atomic.Uint64
}

type reqKind int

const (
	reqTask reqKind = iota + 1
	reqAudit
	reqChat
)

type req struct {
	kind  reqKind
	task  orchestrator.TaskSnapshot
	audit AuditRow
	chat  ChatRow
}

// TaskRow is the read-side projection of one task.
type TaskRow struct {
	ID        string
	Text      string
	Principal string
	Category  string
	Status    string
	Overall   float64
	Reason    string
	Assigned  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditRow struct {
	TS        time.Time
	Principal string
	Action    string
	Detail    string
}

type ChatRow struct {
	TS   time.Time
	From string
	Text string
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropTaskTotal  uint64
	DropAuditTotal uint64
	DropChatTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Generous buffer: progress frames for many tasks plus chat
		// bursts must never stall the orchestrator.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			principal TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			overall REAL NOT NULL,
			reason TEXT,
			assigned INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at);`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			principal TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_principal_ts ON audits(principal, ts);`,
		`CREATE TABLE IF NOT EXISTS chat (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sender_ts ON chat(sender, ts);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTask upserts a task snapshot. Never blocks: drops when the
// writer is saturated.
func (s *SQLiteIndex) WriteTask(snap orchestrator.TaskSnapshot) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTask, task: snap}:
	default:
		s.dropTaskTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteAudit(row AuditRow) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	if row.TS.IsZero() {
		row.TS = time.Now()
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: row}:
	default:
		s.dropAuditTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteChat(row ChatRow) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	if row.TS.IsZero() {
		row.TS = time.Now()
	}
	select {
	case s.ch <- req{kind: reqChat, chat: row}:
	default:
		s.dropChatTotal.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{
		DropTaskTotal:  s.dropTaskTotal.Load(),
		DropAuditTotal: s.dropAuditTotal.Load(),
		DropChatTotal:  s.dropChatTotal.Load(),
	}
	if s.ch != nil {
		st.QueueDepth = len(s.ch)
		st.QueueCapacity = cap(s.ch)
	}
	return st
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTask, _ := s.db.Prepare(`INSERT OR REPLACE INTO tasks(id,text,principal,category,status,overall,reason,assigned,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(ts,principal,action,detail) VALUES(?,?,?,?)`)
	insertChat, _ := s.db.Prepare(`INSERT INTO chat(ts,sender,text) VALUES(?,?,?)`)
	defer func() {
		if insertTask != nil {
			_ = insertTask.Close()
		}
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertChat != nil {
			_ = insertChat.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 256
		commitWait  = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Idle flush: traffic here is sparse, so an open batch must not
	// wait for the next write to land on disk.
	flushTicker := time.NewTicker(commitWait)
	defer flushTicker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			if err := s.apply(tx, r, insertTask, insertAudit, insertChat); err != nil {
				rollback()
				continue
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitWait {
				commit()
			}
		case <-flushTicker.C:
			commit()
		}
	}
}

func (s *SQLiteIndex) apply(tx *sql.Tx, r req, insertTask, insertAudit, insertChat *sql.Stmt) error {
	switch r.kind {
	case reqTask:
		if insertTask == nil {
			return nil
		}
		t := r.task
		_, err := tx.Stmt(insertTask).Exec(
			t.ID,
			t.Text,
			t.Principal,
			t.Intent.Category,
			string(t.Status),
			t.Progress.Overall,
			t.Reason,
			len(t.Assigned),
			t.CreatedAt.UTC().Format(time.RFC3339Nano),
			t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	case reqAudit:
		if insertAudit == nil {
			return nil
		}
		a := r.audit
		_, err := tx.Stmt(insertAudit).Exec(
			a.TS.UTC().Format(time.RFC3339Nano),
			a.Principal,
			a.Action,
			a.Detail,
		)
		return err
	case reqChat:
		if insertChat == nil {
			return nil
		}
		c := r.chat
		_, err := tx.Stmt(insertChat).Exec(
			c.TS.UTC().Format(time.RFC3339Nano),
			c.From,
			c.Text,
		)
		return err
	}
	return nil
}

// Tasks returns up to limit tasks, most recently updated first.
func (s *SQLiteIndex) Tasks(ctx context.Context, limit int) ([]TaskRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,text,principal,category,status,overall,COALESCE(reason,''),assigned,created_at,updated_at
		 FROM tasks ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRow
	for rows.Next() {
		var t TaskRow
		var created, updated string
		if err := rows.Scan(&t.ID, &t.Text, &t.Principal, &t.Category, &t.Status, &t.Overall, &t.Reason, &t.Assigned, &created, &updated); err != nil {
			return nil, err
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Audits returns up to limit audit rows, newest first.
func (s *SQLiteIndex) Audits(ctx context.Context, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts,principal,action,COALESCE(detail,'') FROM audits ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		var ts string
		if err := rows.Scan(&ts, &a.Principal, &a.Action, &a.Detail); err != nil {
			return nil, err
		}
		a.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ChatTail returns up to limit chat rows, newest first.
func (s *SQLiteIndex) ChatTail(ctx context.Context, limit int) ([]ChatRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts,sender,text FROM chat ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatRow
	for rows.Next() {
		var c ChatRow
		var ts string
		if err := rows.Scan(&ts, &c.From, &c.Text); err != nil {
			return nil, err
		}
		c.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}
