package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/kapu/llm-chess-arena/internal/actor"
	"github.com/kapu/llm-chess-arena/internal/arena"
	"github.com/kapu/llm-chess-arena/internal/archive"
	appcfg "github.com/kapu/llm-chess-arena/internal/config"
	"github.com/kapu/llm-chess-arena/internal/obslog"
	"github.com/kapu/llm-chess-arena/internal/prompt"
	"github.com/kapu/llm-chess-arena/internal/ratings"
	"github.com/kapu/llm-chess-arena/internal/registry"
	"github.com/kapu/llm-chess-arena/internal/server"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
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

	// Ratings store and match archive: postgres when configured, local
	// fallbacks otherwise.
	var ratingsStore ratings.Store
	var matchArchive arena.MatchArchiver
	if cfg.DatabaseURL != "" {
		pgStore, err := ratings.NewPGStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("ratings store init error: %v", err)
		}
		defer pgStore.Close()
		ratingsStore = pgStore

		pgArchive, err := archive.NewPGArchive(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		defer pgArchive.Close()
		matchArchive = pgArchive
	} else {
		ratingsStore = ratings.NewMemoryStore()
		fsArchive, err := archive.NewFSArchive(cfg.PGNDir)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		matchArchive = fsArchive
	}

	table, err := ratings.NewTable(ctx, ratingsStore, cfg.DefaultRating)
	if err != nil {
		log.Fatalf("ratings load error: %v", err)
	}

	var mirror registry.Mirror
	if cfg.RedisURL != "" {
		redisMirror, err := registry.NewRedisMirror(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis mirror init error: %v", err)
		}
		defer redisMirror.Close()
		mirror = redisMirror
	}
	reg := registry.New(registry.NewMemStore(), mirror)

	srv := server.New(cfg, reg, table, client, router, prompts, matchArchive)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(runCtx); err != nil {
		obslog.L().Error("server_exit", zap.Error(err))
	}
}
