// cmd/allocdemo/main.go
// Demo and micro-benchmark driver for the slab allocator: runs a
// sawtooth alloc/free workload of 48/100/200/400-byte requests (served
// by the default table's 64/128/256/512-byte classes),
// rotates epochs on a timer, and exposes the resulting counters over
// both a JSON debug endpoint and a Prometheus /metrics endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/minio/slaballoc"
	"github.com/minio/slaballoc/internal/handle"
	"github.com/minio/slaballoc/internal/promexport"
	"github.com/minio/slaballoc/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Version = "1.0.0"

	DefaultMetricsPort = 9101

	Workers          = 8
	EpochRotateEvery = 2 * time.Second
)

func main() {
	workers := flag.Int("workers", Workers, "concurrent alloc/free goroutines")
	metricsPort := flag.Int("metrics-port", DefaultMetricsPort, "port to serve /metrics on")
	runFor := flag.Duration("for", 30*time.Second, "how long to run the demo workload")
	flag.Parse()

	runtime.GOMAXPROCS(runtime.NumCPU())

	fmt.Printf("slaballoc demo v%s\n", Version)
	fmt.Printf("CPUs: %d, GOMAXPROCS: %d\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	jaegerEndpoint := os.Getenv("JAEGER_ENDPOINT")
	if jaegerEndpoint == "" {
		jaegerEndpoint = "http://jaeger:14268/api/traces"
	}
	if err := tracing.InitTracing(jaegerEndpoint); err != nil {
		log.Printf("warning: failed to initialize tracing: %v", err)
	}

	cfg := slaballoc.DefaultConfig()
	a, err := slaballoc.New(cfg)
	if err != nil {
		log.Fatalf("failed to create allocator: %v", err)
	}
	defer a.Close()

	reg := prometheus.NewRegistry()
	if err := reg.Register(promexport.New(a)); err != nil {
		log.Fatalf("failed to register collector: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, r *http.Request) {
		handleDebugStats(w, a)
	})
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *metricsPort),
		Handler: mux,
	}

	fmt.Printf("starting metrics server on :%d\n", *metricsPort)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *runFor)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Printf("running sawtooth workload with %d workers for %s\n", *workers, *runFor)
	runWorkload(ctx, a, *workers)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	printSummary(a)
}

// runWorkload rotates the active epoch every EpochRotateEvery while
// workers goroutines each run a sawtooth alloc-then-free loop against a
// randomly chosen size class, tagged with whichever epoch was current
// when the batch started.
func runWorkload(ctx context.Context, a *slaballoc.Allocator, workers int) {
	var wg sync.WaitGroup

	rotateDone := make(chan struct{})
	go func() {
		defer close(rotateDone)
		ticker := time.NewTicker(EpochRotateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				closing := a.EpochCurrent()
				next := a.EpochAdvance()
				scanned, recycled := a.EpochClose(ctx, closing)
				fmt.Printf("epoch %d closed (now %d active): scanned=%d recycled=%d\n",
					closing, next, scanned, recycled)
			}
		}
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			sawtoothWorker(ctx, a, rng)
		}(int64(i) + 1)
	}

	wg.Wait()
	<-rotateDone
}

func sawtoothWorker(ctx context.Context, a *slaballoc.Allocator, rng *rand.Rand) {
	const batchSize = 64
	sizes := []uint32{48, 100, 200, 400}

	handles := make([]handle.Handle, 0, batchSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		epochID := a.EpochCurrent()
		handles = handles[:0]
		for i := 0; i < batchSize; i++ {
			size := sizes[rng.Intn(len(sizes))]
			h, _, err := a.AllocObj(size, epochID)
			if err != nil {
				continue
			}
			handles = append(handles, h)
		}
		for _, h := range handles {
			_ = a.FreeObj(h)
		}
	}
}

func handleDebugStats(w http.ResponseWriter, a *slaballoc.Allocator) {
	type classEntry struct {
		slaballoc.ClassStats
	}
	resp := struct {
		Global  slaballoc.GlobalStats `json:"global"`
		Classes []classEntry          `json:"classes"`
	}{
		Global: a.StatsGlobal(),
	}
	for i := 0; i < a.NumClasses(); i++ {
		cs, ok := a.StatsClass(i)
		if !ok {
			continue
		}
		resp.Classes = append(resp.Classes, classEntry{cs})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("debug stats encode error: %v", err)
	}
}

func printSummary(a *slaballoc.Allocator) {
	g := a.StatsGlobal()
	fmt.Println("\n--- summary ---")
	fmt.Printf("allocations=%d frees=%d slabs_allocated=%d slabs_recycled=%d\n",
		g.Allocations, g.Frees, g.SlabsAllocated, g.SlabsRecycled)
	for i := 0; i < a.NumClasses(); i++ {
		cs, ok := a.StatsClass(i)
		if !ok {
			continue
		}
		fmt.Printf("class %d (obj_size=%d): allocations=%d slow_path_hits=%d cache=%d/%d scan_mode=%s\n",
			i, cs.ObjSize, cs.Allocations, cs.SlowPathHits, cs.CacheLen, cs.CacheCapacity, cs.ScanMode)
	}
}
