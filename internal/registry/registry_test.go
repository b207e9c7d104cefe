package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/pkg/arenadto"
)

type replayActor struct {
	name    string
	replies []string
}

func (a *replayActor) Name() string { return a.name }

func (a *replayActor) Send(ctx context.Context, _ []actor.Message) (*actor.Reply, error) {
	if len(a.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	text := a.replies[0]
	a.replies = a.replies[1:]
	return &actor.Reply{Text: text, Latency: time.Millisecond}, nil
}

func reply(mv string) string {
	return fmt.Sprintf(`{"rationale": "testing", "move": "%s"}`, mv)
}

func newTestMatch(t *testing.T, whiteMoves, blackMoves []string) *arena.Match {
	t.Helper()
	prompts, err := prompt.New("")
	if err != nil {
		t.Fatalf("prompt catalog: %v", err)
	}
	white := &replayActor{name: "w", replies: whiteMoves}
	black := &replayActor{name: "b", replies: blackMoves}
	m, err := arena.NewMatch("w", white, "b", black, prompts, nil, nil, arena.Config{})
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	return m
}

func TestCreatePublishesInitialSnapshot(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))

	snap, version := e.Snapshot()
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}
	if snap.Status != "ACTIVE" || snap.PlyCount != 0 {
		t.Fatalf("initial snapshot: status=%s plies=%d", snap.Status, snap.PlyCount)
	}

	got, err := reg.Get(e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != e {
		t.Fatal("get returned a different entry")
	}
}

func TestGetUnknown(t *testing.T) {
	reg := New(NewMemStore(), nil)
	if _, err := reg.Get("match-nope"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("err = %v, want ErrMatchNotFound", err)
	}
	if _, err := reg.Advance(context.Background(), "match-nope"); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("advance err = %v, want ErrMatchNotFound", err)
	}
}

func TestAdvancePublishes(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, []string{reply("e2e4")}, nil))

	out, err := reg.Advance(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.Terminal {
		t.Fatal("one ply should not be terminal")
	}
	if out.Record == nil || out.Record.MoveUCI != "e2e4" {
		t.Fatalf("record: %+v", out.Record)
	}

	snap, version := e.Snapshot()
	if version != 2 {
		t.Fatalf("version = %d, want 2", version)
	}
	if snap.PlyCount != 1 || snap.LastMove != "e2e4" {
		t.Fatalf("snapshot: plies=%d last=%s", snap.PlyCount, snap.LastMove)
	}
}

func TestWaitWakesOnPublish(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, []string{reply("e2e4")}, nil))
	_, since := e.Snapshot()

	type waitResult struct {
		snap    *arenadto.MatchSnapshot
		changed bool
		err     error
	}
	done := make(chan waitResult, 1)
	go func() {
		snap, _, changed, err := e.Wait(context.Background(), since, 5*time.Second)
		done <- waitResult{snap, changed, err}
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := reg.Advance(context.Background(), e.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("wait: %v", r.err)
		}
		if !r.changed {
			t.Fatal("wait reported no change after a publish")
		}
		if r.snap.PlyCount != 1 {
			t.Fatalf("woken with stale snapshot: plies=%d", r.snap.PlyCount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait never woke")
	}
}

func TestWaitTimeoutIsKeepAlive(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))
	_, since := e.Snapshot()

	snap, version, changed, err := e.Wait(context.Background(), since, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if changed {
		t.Fatal("timeout reported a change")
	}
	if version != since || snap == nil {
		t.Fatalf("timeout result: version=%d snap=%v", version, snap)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))
	_, since := e.Snapshot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, _, err := e.Wait(ctx, since, time.Minute); err == nil {
		t.Fatal("cancelled wait returned nil error")
	}
}

func TestWaitStaleVersionReturnsImmediately(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))

	// since=0 predates the initial publish, so the reader is already behind
	_, _, changed, err := e.Wait(context.Background(), 0, time.Minute)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !changed {
		t.Fatal("stale reader should observe a change without blocking")
	}
}

func TestConcurrentReadersDuringAdvance(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t,
		[]string{reply("e2e4"), reply("g1f3"), reply("f1c4")},
		[]string{reply("e7e5"), reply("b8c6"), reply("g8f6")},
	))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastVersion uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap, version := e.Snapshot()
				if version < lastVersion {
					t.Errorf("version went backwards: %d after %d", version, lastVersion)
					return
				}
				lastVersion = version
				// a published snapshot is all pre-move or all post-move,
				// never a mix
				if len(snap.MovesUCI) != snap.PlyCount || len(snap.MovesSAN) != snap.PlyCount || len(snap.Records) != snap.PlyCount {
					t.Errorf("torn snapshot: plies=%d uci=%d san=%d records=%d",
						snap.PlyCount, len(snap.MovesUCI), len(snap.MovesSAN), len(snap.Records))
					return
				}
				if snap.PlyCount > 0 && snap.LastMove != snap.MovesUCI[snap.PlyCount-1] {
					t.Errorf("torn snapshot: last=%s moves=%v", snap.LastMove, snap.MovesUCI)
					return
				}
			}
		}()
	}

	for i := 0; i < 6; i++ {
		if _, err := reg.Advance(context.Background(), e.ID); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()

	snap, version := e.Snapshot()
	if snap.PlyCount != 6 || version != 7 {
		t.Fatalf("final state: plies=%d version=%d", snap.PlyCount, version)
	}
}

func TestRemove(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))

	reg.Remove(e.ID)
	if _, err := reg.Get(e.ID); !errors.Is(err, ErrMatchNotFound) {
		t.Fatalf("err = %v, want ErrMatchNotFound after remove", err)
	}
}

func TestAdvanceErrorMarksFailed(t *testing.T) {
	// no replies at all: the transport errors, the match forfeits, and the
	// orchestrator reports that terminal outcome without an Advance error
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))

	out, err := reg.Advance(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !out.Terminal {
		t.Fatal("transport exhaustion should end the match")
	}
	snap, _ := e.Snapshot()
	if !snap.Over() {
		t.Fatal("published snapshot not terminal")
	}
}

func TestFailPublishesTerminalSnapshot(t *testing.T) {
	reg := New(NewMemStore(), nil)
	e := reg.Create(newTestMatch(t, nil, nil))
	_, before := e.Snapshot()

	reg.Fail(context.Background(), e.ID, "driver panic: boom")

	snap, version := e.Snapshot()
	if version <= before {
		t.Fatal("fail did not publish")
	}
	if snap.Status != "FAILED" || !snap.Over() {
		t.Fatalf("snapshot after fail: status=%s", snap.Status)
	}
}

func TestRedisMirrorRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := NewRedisMirror("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close() })

	ctx := context.Background()
	snap := &arenadto.MatchSnapshot{ID: "match-123", Status: "ACTIVE", Turn: "white"}
	if err := mirror.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := mirror.LoadSnapshot(ctx, "match-123")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil || got.ID != "match-123" || got.Status != "ACTIVE" {
		t.Fatalf("round trip: %+v", got)
	}

	if mr.TTL("arena:match:match-123") != mirrorTTL {
		t.Fatalf("ttl = %v, want %v", mr.TTL("arena:match:match-123"), mirrorTTL)
	}

	absent, err := mirror.LoadSnapshot(ctx, "match-absent")
	if err != nil {
		t.Fatalf("load absent: %v", err)
	}
	if absent != nil {
		t.Fatalf("absent snapshot: %+v", absent)
	}
}

func TestRegistryMirrorsOnAdvance(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror, err := NewRedisMirror("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close() })

	reg := New(NewMemStore(), mirror)
	e := reg.Create(newTestMatch(t, []string{reply("e2e4")}, nil))

	if !mr.Exists("arena:match:" + e.ID) {
		t.Fatal("create did not mirror the initial snapshot")
	}

	if _, err := reg.Advance(context.Background(), e.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err := mirror.LoadSnapshot(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.PlyCount != 1 {
		t.Fatalf("mirrored snapshot stale: plies=%d", got.PlyCount)
	}
}

func TestParseRedisURL(t *testing.T) {
	opts, err := parseRedisURL("redis://:secret@localhost:6379/3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.Password != "secret" || opts.DB != 3 {
		t.Fatalf("opts: %+v", opts)
	}

	if _, err := parseRedisURL("http://localhost:6379"); err == nil {
		t.Fatal("non-redis scheme accepted")
	}
}
