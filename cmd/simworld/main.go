// simworld runs the development world server: a flat seeded terrain
// that speaks the agent wire protocol over /v1/ws. The hub's fleet can
// point at it in place of a real game world.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetmind.ai/internal/fleet/catalogs"
	"fleetmind.ai/internal/simworld"
	"fleetmind.ai/internal/transport/ws"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		configDir = flag.String("configs", "./configs", "config directory")
		tickRate  = flag.Int("tick_rate", 10, "ticks per second")
		dayTicks  = flag.Int("day_ticks", 6000, "ticks per day/night cycle")
		obsRadius = flag.Int("obs_radius", 16, "observation radius in blocks")
		seed      = flag.Int64("seed", 1337, "terrain seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[simworld] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	w := simworld.New(simworld.Config{
		TickRateHz: *tickRate,
		DayTicks:   *dayTicks,
		ObsRadius:  *obsRadius,
		Seed:       *seed,
	}, cats, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP simworld_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE simworld_tick gauge\n")
		fmt.Fprintf(rw, "simworld_tick %d\n", m.Tick)

		fmt.Fprintf(rw, "# HELP simworld_agents Current number of agents in the world.\n")
		fmt.Fprintf(rw, "# TYPE simworld_agents gauge\n")
		fmt.Fprintf(rw, "simworld_agents %d\n", m.Agents)

		fmt.Fprintf(rw, "# HELP simworld_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE simworld_queue_depth gauge\n")
		fmt.Fprintf(rw, "simworld_queue_depth{queue=%q} %d\n", "inbox", m.Inbox)
		fmt.Fprintf(rw, "simworld_queue_depth{queue=%q} %d\n", "join", m.Joins)
		fmt.Fprintf(rw, "simworld_queue_depth{queue=%q} %d\n", "leave", m.Leaves)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s seed=%d tick_rate=%d", *addr, *seed, *tickRate)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
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
