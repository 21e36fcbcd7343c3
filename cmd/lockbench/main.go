package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teamlock-io/teamlock/v1/mutex"
	"github.com/teamlock-io/teamlock/v1/presets"
)

var (
	ranks     = flag.Int("ranks", 8, "Team size")
	iters     = flag.Int("n", 10000, "Lock/unlock rounds per member")
	target    = flag.String("target", "local", "Target: local, redis")
	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis Address")
)

func main() {
	flag.Parse()

	fmt.Printf("| %-10s | %-6s | %-10s | %-12s | %-12s |\n", "Target", "Ranks", "Ops/sec", "Avg Latency", "P99 Latency")
	fmt.Println("|:---|:---|:---|:---|:---|")

	for _, t := range strings.Split(*target, ",") {
		runBenchmark(strings.TrimSpace(t))
	}
}

func runBenchmark(name string) {
	ctx := context.Background()
	ms, cleanup, err := openMembers(ctx, name)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}

	var mu sync.Mutex
	latencies := make([]time.Duration, 0, *ranks**iters)
	start := time.Now()

	var g errgroup.Group
	for _, m := range ms {
		m := m
		g.Go(func() error {
			samples := make([]time.Duration, 0, *iters)
			for i := 0; i < *iters; i++ {
				t0 := time.Now()
				m.Lock()
				m.Unlock()
				samples = append(samples, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, samples...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	elapsed := time.Since(start)

	var cg errgroup.Group
	for _, m := range ms {
		m := m
		cg.Go(func() error { return m.Close(ctx) })
	}
	if err := cg.Wait(); err != nil {
		log.Fatalf("%s close: %v", name, err)
	}
	if cleanup != nil {
		cleanup()
	}

	report(name, latencies, elapsed)
}

func openMembers(ctx context.Context, name string) ([]*mutex.Mutex, func(), error) {
	switch name {
	case "local":
		ms, err := presets.NewLocalTeam(ctx, *ranks)
		return ms, nil, err

	case "redis":
		ms := make([]*mutex.Mutex, *ranks)
		cleanups := make([]func() error, *ranks)
		var g errgroup.Group
		for r := 0; r < *ranks; r++ {
			r := r
			g.Go(func() error {
				m, cleanup, err := presets.NewRedisMember(ctx, presets.RedisOptions{
					Addr:   *redisAddr,
					TeamID: "bench",
					Rank:   r,
					Size:   *ranks,
				})
				if err != nil {
					return err
				}
				ms[r] = m
				cleanups[r] = cleanup
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
		return ms, func() {
			for _, c := range cleanups {
				_ = c()
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown target %q", name)
	}
}

func report(name string, latencies []time.Duration, elapsed time.Duration) {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	n := len(latencies)
	avg := total / time.Duration(n)
	p99 := latencies[n*99/100]
	opsSec := float64(n) / elapsed.Seconds()

	fmt.Printf("| %-10s | %-6d | %-10.0f | %-12v | %-12v |\n", name, *ranks, opsSec, avg, p99)
}
