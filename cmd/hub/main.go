// hub runs the agent fleet against a world server: it logs every agent
// in over websocket, drives their behavior loops, accepts operator
// commands over HTTP and persists chat/task/audit streams.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"fleetmind.ai/internal/fleet"
	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/fleet/tuning"
	"fleetmind.ai/internal/hubapi"
	"fleetmind.ai/internal/orchestrator"
	"fleetmind.ai/internal/persistence/indexdb"
	persistlog "fleetmind.ai/internal/persistence/log"
	"fleetmind.ai/internal/worldclient"
)

func main() {
	var (
		addr       = flag.String("addr", ":7070", "http listen address")
		worldURL   = flag.String("world_url", "ws://127.0.0.1:8080/v1/ws", "world websocket url")
		agentSpec  = flag.String("agents", "Ada,Brick,Cleo,Dusk", "comma-separated agent names")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[hub] ", log.LstdFlags|log.Lmicroseconds)

	names := splitNames(*agentSpec)
	if len(names) == 0 {
		logger.Fatalf("no agent names in -agents")
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Durable streams: hourly zstd JSONL, plus an optional sqlite read
	// model for ad-hoc queries.
	chatFile := persistlog.NewChatLogger(*dataDir)
	eventFile := persistlog.NewEventLogger(*dataDir)
	auditFile := persistlog.NewAuditLogger(*dataDir)
	defer chatFile.Close()
	defer eventFile.Close()
	defer auditFile.Close()

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	mgr := fleet.NewManager(logger)
	chat := fleet.NewChatLog(1024, func(m fleet.ChatMessage) {
		_ = chatFile.WriteChat(persistlog.ChatEntry{TS: m.When, From: m.From, Text: m.Text})
		if idx != nil {
			_ = idx.WriteChat(indexdb.ChatRow{TS: m.When, From: m.From, Text: m.Text})
		}
	})

	rt := &runtime{
		worldURL: *worldURL,
		mgr:      mgr,
		cats:     cats,
		tune:     tune,
		chat:     chat,
		logger:   logger,
		joinSem:  semaphore.NewWeighted(maxJoins(tune)),
	}

	orc, err := orchestrator.New(orchestrator.Config{
		Fleet:    mgr,
		Catalogs: cats,
		Tuning:   tune,
		Logger:   logger,
		ChatLog:  chat,
		Audit: func(principal, action, detail string) {
			now := time.Now()
			_ = auditFile.WriteAudit(persistlog.AuditEntry{TS: now, Principal: principal, Action: action, Detail: detail})
			if idx != nil {
				_ = idx.WriteAudit(indexdb.AuditRow{TS: now, Principal: principal, Action: action, Detail: detail})
			}
		},
		OnUpdate: func(snap orchestrator.TaskSnapshot) {
			_ = eventFile.WriteEvent(persistlog.EventEntry{
				TS:      snap.UpdatedAt,
				TaskID:  snap.ID,
				Status:  string(snap.Status),
				Overall: snap.Progress.Overall,
				Detail:  snap.Reason,
			})
			if idx != nil {
				_ = idx.WriteTask(snap)
			}
		},
		Privileged: func(pctx context.Context, principal string, in orchestrator.Intent) (string, error) {
			switch in.Category {
			case "shutdown":
				logger.Printf("shutdown ordered by %s", principal)
				// Give the HTTP response a moment to flush.
				go func() {
					time.Sleep(100 * time.Millisecond)
					cancel()
				}()
				return "fleet shutting down", nil
			case "spawn":
				spawned := rt.spawn(gctx, in.Count)
				if len(spawned) == 0 {
					return "", fmt.Errorf("no agents spawned")
				}
				return "deployed " + strings.Join(spawned, ", "), nil
			}
			return "", fmt.Errorf("no handler for %s", in.Category)
		},
	})
	if err != nil {
		logger.Fatalf("orchestrator: %v", err)
	}
	defer orc.Close()

	for i, name := range names {
		rt.start(gctx, name, int64(i+1))
	}

	api := hubapi.NewServer(hubapi.Config{
		Orchestrator: orc,
		Fleet:        mgr,
		Logger:       logger,
		Index:        idx,
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s, %d agents -> %s", *addr, len(names), *worldURL)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		return nil
	})
	g.Go(func() error {
		rt.wg.Wait()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Fatalf("hub: %v", err)
	}
	logger.Printf("all agents stopped")
}

// runtime supervises agent connections: bounded concurrent joins,
// jittered reconnect backoff, one goroutine per agent.
type runtime struct {
	worldURL string
	mgr      *fleet.Manager
	cats     *catalogs.Catalogs
	tune     tuning.Tuning
	chat     *fleet.ChatLog
	logger   *log.Logger
	joinSem  *semaphore.Weighted

	wg       sync.WaitGroup
	recruits atomic.Uint64
}

func (rt *runtime) start(ctx context.Context, name string, seed int64) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.supervise(ctx, name, seed)
	}()
}

// spawn deploys up to count extra agents. Operator typos should not
// summon an army, so the count is clamped.
func (rt *runtime) spawn(ctx context.Context, count int) []string {
	if count <= 0 {
		count = 1
	}
	if count > 8 {
		count = 8
	}
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("recruit-%d", rt.recruits.Add(1))
		rt.start(ctx, name, 0)
		names = append(names, name)
	}
	return names
}

func (rt *runtime) supervise(ctx context.Context, name string, seed int64) {
	backoff := time.Second
	for ctx.Err() == nil {
		sess, err := rt.connect(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			rt.logger.Printf("agent %s: connect: %v (retrying)", name, err)
			sleepJitter(ctx, backoff)
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second

		a, err := fleet.NewAgent(fleet.AgentConfig{
			Name:     name,
			World:    sess,
			Roster:   rt.mgr,
			Tuning:   rt.tune,
			Catalogs: rt.cats,
			Logger:   rt.logger,
			ChatLog:  rt.chat,
			Seed:     seed,
		})
		if err != nil {
			rt.logger.Printf("agent %s: %v", name, err)
			_ = sess.Close()
			return
		}
		rt.mgr.Register(a)

		// The agent run ends when the hub stops or the session drops.
		runCtx, stop := context.WithCancel(ctx)
		go func() {
			select {
			case <-sess.Done():
				stop()
			case <-runCtx.Done():
			}
		}()
		a.Run(runCtx)
		stop()
		rt.mgr.Unregister(a.ID())
		_ = sess.Close()

		if ctx.Err() != nil {
			return
		}
		rt.logger.Printf("agent %s: session ended: %v", name, sess.Err())
	}
}

func (rt *runtime) connect(ctx context.Context, name string) (*worldclient.Session, error) {
	if err := rt.joinSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer rt.joinSem.Release(1)

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return worldclient.Login(dctx, rt.worldURL, name, worldclient.Options{
		ActionTimeout: time.Duration(rt.tune.ActionTimeoutMs) * time.Millisecond,
		Logger:        rt.logger,
	})
}

func maxJoins(tune tuning.Tuning) int64 {
	n := tune.MaxConcurrentJoins
	if n <= 0 {
		n = 8
	}
	return int64(n)
}

// sleepJitter waits 0.5x..1.5x of d, or less if the context ends.
func sleepJitter(ctx context.Context, d time.Duration) {
	j := d/2 + time.Duration(rand.Int63n(int64(d)))
	t := time.NewTimer(j)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func splitNames(spec string) []string {
	parts := strings.Split(spec, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
