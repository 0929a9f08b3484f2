package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/streamfold/eskit/adapters/nats"
	"github.com/streamfold/eskit/core/cache"
	"github.com/streamfold/eskit/core/es"
)

// === Config ===

// NOTE: run nats: docker run -v "/tmp/nats/jetstream:/tmp/nats/jetstream" --net=host nats:latest -js

var (
	logLevel      = slog.LevelInfo
	N             = getEnvInt("N", 50_000)
	batchSize     = getEnvInt("B", 1_000)
	backendType   = getEnv("BACKEND", "nats")
	useSnapshot   = getEnvBool("SNAPSHOT", true)
	loadAfterSave = getEnvBool("LOAD_AFTER_SAVE", false)
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "0")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.ToLower(v) == "true"
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// === Projection ===

type countProjection struct {
	TotalEvents int
}

func (m *countProjection) Name() string { return "count" }

func (m *countProjection) Apply(_ context.Context, _ es.Envelope, _ any) error {
	m.TotalEvents++
	return nil
}

func (m *countProjection) Reset(context.Context) error {
	m.TotalEvents = 0
	return nil
}

var _ es.Projection = (*countProjection)(nil)

func main() {
	var (
		env *es.Env
		err error
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	)

	fmt.Printf("Snapshot: %s\n", strconv.FormatBool(useSnapshot))
	fmt.Printf(" Backend: %s\n", backendType)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	switch backendType {
	case "nats":
		env = createNatsEnv(log)
	default:
		env = createMemEnv(log)
	}
	defer env.Shutdown()

	repo := es.NewTypedRepositoryFrom[*User](log, env.Repository())

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()

	userID := "user-1"
	myUser, err := repo.GetOrCreate(ctx, userID, es.WithSnapshot(true))
	checkErr(err)

	lastTime := time.Now()

	for i := 0; i < N; i++ {
		// write a change
		checkErr(myUser.ChangeEmail(fmt.Sprintf("user@host-%d.com", i)))
		checkErr(repo.Save(ctx, myUser, es.WithSnapshot(useSnapshot)))

		if loadAfterSave {
			_, err = repo.GetByID(ctx, userID, es.WithSnapshot(useSnapshot))
			checkErr(err)
		}

		if i == 0 {
			continue
		}
		if i%100 == 0 {
			print(".")
		}
		if i%batchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d events | %6d ms |  %6d events/s | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === stats ===
	println("")
	println("==========================================")

	doneAt := time.Now()
	took := doneAt.Sub(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      version: %d\n", myUser.GetVersion())
	fmt.Printf("   stream seq: %d\n", myUser.GetSeq())
	fmt.Printf("avg. writes/s: %d\n", int(float64(N)/took.Seconds()))
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Env ===

func createMemEnv(log *slog.Logger) (env *es.Env) {
	var err error
	env, err = es.NewEnv(
		es.WithLog(log),
		es.WithInMemory(),
		es.WithAggregates(new(User)),
		es.WithProjection(&countProjection{}),
	)
	checkErr(err)
	return env
}

func createNatsEnv(log *slog.Logger) (env *es.Env) {
	connectNats := nats.ReuseConnection(nats.ConnectDefault())

	store, err := nats.NewEventStore(nats.EventStoreConfig{
		Log:           log,
		Connect:       connectNats,
		SubjectPrefix: "eskit.loadtest",
		StreamName:    "LOADTEST_EVENTS",
	})
	checkErr(err)

	snapshotter, err := nats.NewSnapshotter(nats.KvConfig{
		Connect: connectNats,
		Bucket:  "loadtest_snapshots",
	})
	checkErr(err)

	cps, err := nats.NewCpStore(nats.CpStoreConfig{
		Bucket:  "loadtest_cps",
		Key:     "count",
		Connect: connectNats,
	})
	checkErr(err)

	// === wire env ===

	env, err = es.NewEnv(
		es.WithLog(log),
		es.WithStore(store),
		// hot snapshots served from an in-process LRU
		es.WithSnapshotter(es.NewCachingSnapshotter(snapshotter, cache.NewLRU(cache.LRUOpts{Size: 1_000}))),
		es.WithAggregates(new(User)),
		es.WithProjection(&countProjection{}, es.WithCheckpointStore(cps)),
	)
	checkErr(err)
	return env
}

// === Domain ===

type (
	User struct {
		es.BaseAggregate

		Name  string
		Email string
	}

	NameChanged  struct{ NewName string }
	EmailChanged struct{ NewEmail string }
)

func (u *User) GetAggType() string { return "user" }

func (u *User) Register(r es.Registrar) {
	es.RegisterEventFor[NameChanged](r)
	es.RegisterEventFor[EmailChanged](r)
}

func (u *User) Apply(e any) error {
	switch evt := e.(type) {
	case *NameChanged:
		u.Name = evt.NewName
	case *EmailChanged:
		u.Email = evt.NewEmail
	default:
		return u.BaseAggregate.Apply(e)
	}
	return nil
}

func (u *User) ChangeName(name string) error {
	return es.RaiseAndApply(u, &NameChanged{NewName: name})
}

func (u *User) ChangeEmail(email string) error {
	return es.RaiseAndApply(u, &EmailChanged{NewEmail: email})
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
