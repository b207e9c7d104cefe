// arena-tour runs a small round-robin style tournament between the models
// listed in the models file and prints the final rating table.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/archive"
	appcfg "github.com/kapu/llm-chess-arena/internal/config"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/ratings"
)

func main() {
	matches := flag.Int("matches", 10, "number of matches to play")
	flag.Parse()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}

	models, err := appcfg.ReadModelsFile(cfg.ModelsFile)
	if err != nil {
		log.Fatalf("read models: %v", err)
	}
	if len(models) < 2 {
		log.Fatalf("need at least two models in %s", cfg.ModelsFile)
	}

	prompts, err := prompt.New(cfg.PromptDir)
	if err != nil {
		log.Fatalf("prompt catalog error: %v", err)
	}
	router, err := actor.NewStaticRouterFromYAML(cfg.ModelRoutes)
	if err != nil {
		log.Fatalf("model routes error: %v", err)
	}
	client := actor.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, actor.WithTimeout(cfg.ActorTimeout))

	ctx := context.Background()

	var store ratings.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := ratings.NewPGStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("ratings store init error: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		store = ratings.NewMemoryStore()
	}
	table, err := ratings.NewTable(ctx, store, cfg.DefaultRating)
	if err != nil {
		log.Fatalf("ratings load error: %v", err)
	}

	pgnArchive, err := archive.NewFSArchive(cfg.PGNDir)
	if err != nil {
		log.Fatalf("archive init error: %v", err)
	}

	for i := 0; i < *matches; i++ {
		white, black := randomPairing(models)
		fmt.Printf("\nGame %d: %s (white) vs %s (black)\n", i+1, white, black)

		m, err := arena.NewMatch(
			white, actor.NewModelActor(client, router, white),
			black, actor.NewModelActor(client, router, black),
			prompts, pgnArchive, table,
			arena.Config{Retries: cfg.MoveRetries, MaxFullmoves: cfg.MaxFullmoves, Round: i + 1},
		)
		if err != nil {
			log.Fatalf("match setup: %v", err)
		}
		summary, err := m.Play(ctx)
		if err != nil {
			fmt.Printf("Game %d failed: %v\n", i+1, err)
			continue
		}
		fmt.Printf("Game %d result: %s (%s)\n", i+1, summary.Result, summary.Termination)
	}

	fmt.Println("\nFinal ratings:")
	snapshot := table.Snapshot()
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return snapshot[ids[i]].Rating > snapshot[ids[j]].Rating })
	for _, id := range ids {
		e := snapshot[id]
		fmt.Printf("- %s: %d (%dW/%dD/%dL)\n", id, int(e.Rating), e.Wins, e.Draws, e.Losses)
	}
}

func randomPairing(models []string) (string, string) {
	i := rand.Intn(len(models))
	j := rand.Intn(len(models) - 1)
	if j >= i {
		j++
	}
	return models[i], models[j]
}
