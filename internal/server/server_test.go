package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/config"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/ratings"
	"github.com/kapu/llm-chess-arena/internal/registry"
	"github.com/kapu/llm-chess-arena/pkg/arenadto"
)

// fakeProvider always answers with the same move reply.
func fakeProvider(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]any{"cost": 0.001},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	provider := fakeProvider(t, `{"rationale":"open the center","move":"e2e4"}`)

	modelsPath := filepath.Join(t.TempDir(), "models.txt")
	if err := os.WriteFile(modelsPath, []byte("vendor/model-a\nvendor/model-b\n"), 0o644); err != nil {
		t.Fatalf("write models: %v", err)
	}

	cfg := &config.AppConfig{
		ListenAddr:     ":0",
		ModelsFile:     modelsPath,
		MoveRetries:    1,
		MaxFullmoves:   200,
		DefaultRating:  1200,
		ActorTimeout:   5 * time.Second,
		WatchKeepAlive: 100 * time.Millisecond,
	}

	prompts, err := prompt.New("")
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	table, err := ratings.NewTable(context.Background(), ratings.NewMemoryStore(), cfg.DefaultRating)
	if err != nil {
		t.Fatalf("ratings: %v", err)
	}
	client := actor.NewClient(provider.URL, "test-key")
	reg := registry.New(registry.NewMemStore(), nil)

	s := New(cfg, reg, table, client, actor.NewStaticRouter(), prompts, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestModelsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var models []string
	if status := getJSON(t, ts.URL+"/api/models", &models); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(models) != 2 || models[0] != "vendor/model-a" {
		t.Fatalf("models = %v", models)
	}
}

func TestRatingsEndpointEmpty(t *testing.T) {
	ts := newTestServer(t)

	var table map[string]ratings.Entry
	if status := getJSON(t, ts.URL+"/api/ratings", &table); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(table) != 0 {
		t.Fatalf("table = %v", table)
	}
}

func TestStartStepState(t *testing.T) {
	ts := newTestServer(t)

	var started struct {
		MatchID string `json:"match_id"`
		Auto    bool   `json:"auto"`
	}
	status := getJSON(t, ts.URL+"/api/start_game?white_player=vendor/model-a&black_player=vendor/model-b&auto=false", &started)
	if status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}
	if started.MatchID == "" || started.Auto {
		t.Fatalf("start response: %+v", started)
	}

	var step struct {
		Terminal bool `json:"Terminal"`
		Record   *struct {
			MoveUCI string `json:"MoveUCI"`
			MoveSAN string `json:"MoveSAN"`
		} `json:"Record"`
	}
	if status := postJSON(t, ts.URL+"/api/step?id="+started.MatchID, &step); status != http.StatusOK {
		t.Fatalf("step status = %d", status)
	}
	if step.Terminal {
		t.Fatal("one ply should not be terminal")
	}
	if step.Record == nil || step.Record.MoveUCI != "e2e4" {
		t.Fatalf("step record: %+v", step.Record)
	}

	var state struct {
		Version uint64                 `json:"version"`
		State   *arenadto.MatchSnapshot `json:"state"`
	}
	if status := getJSON(t, ts.URL+"/api/state?id="+started.MatchID, &state); status != http.StatusOK {
		t.Fatalf("state status = %d", status)
	}
	if state.Version != 2 {
		t.Fatalf("version = %d, want 2", state.Version)
	}
	if state.State.PlyCount != 1 || state.State.LastMove != "e2e4" {
		t.Fatalf("state: %+v", state.State)
	}
}

func TestStartGameValidation(t *testing.T) {
	ts := newTestServer(t)
	if status := getJSON(t, ts.URL+"/api/start_game?white_player=only", nil); status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestUnknownMatch(t *testing.T) {
	ts := newTestServer(t)
	if status := getJSON(t, ts.URL+"/api/state?id=match-nope", nil); status != http.StatusNotFound {
		t.Fatalf("state status = %d, want 404", status)
	}
	if status := postJSON(t, ts.URL+"/api/step?id=match-nope", nil); status != http.StatusNotFound {
		t.Fatalf("step status = %d, want 404", status)
	}
	if status := getJSON(t, ts.URL+"/api/watch?id=match-nope", nil); status != http.StatusNotFound {
		t.Fatalf("watch status = %d, want 404", status)
	}
}
