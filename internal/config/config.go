package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	OpenRouterAPIKey  string
	OpenRouterBaseURL string

	ListenAddr string
	ModelsFile string

	RedisURL    string
	DatabaseURL string
	PGNDir      string

	MoveRetries   int
	MaxFullmoves  int
	DefaultRating float64

	ActorTimeout   time.Duration
	WatchKeepAlive time.Duration

	PromptDir   string
	ModelRoutes string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		ListenAddr:        ":8080",
		ModelsFile:        "models.txt",
		PGNDir:            "games",
		MoveRetries:       2,
		MaxFullmoves:      200,
		DefaultRating:     1200,
		ActorTimeout:      3 * time.Minute,
		WatchKeepAlive:    15 * time.Second,
	}

	cfg.OpenRouterAPIKey = strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("OPENROUTER_BASE_URL")); v != "" {
		cfg.OpenRouterBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("MODELS_FILE")); v != "" {
		cfg.ModelsFile = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if v := strings.TrimSpace(os.Getenv("PGN_DIR")); v != "" {
		cfg.PGNDir = v
	}

	if v := strings.TrimSpace(os.Getenv("MOVE_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MoveRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_FULLMOVES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxFullmoves = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_RATING")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.DefaultRating = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("ACTOR_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ActorTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("WATCH_KEEPALIVE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WatchKeepAlive = time.Duration(n) * time.Second
		}
	}

	cfg.PromptDir = strings.TrimSpace(os.Getenv("PROMPT_DIR"))
	cfg.ModelRoutes = strings.TrimSpace(os.Getenv("MODEL_ROUTES"))

	if cfg.OpenRouterAPIKey == "" {
		return nil, errors.New("OPENROUTER_API_KEY is required")
	}

	return cfg, nil
}

// ReadModelsFile reads one model id per non-empty, non-comment line.
// A missing file yields an empty list rather than an error.
func ReadModelsFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var models []string
	for _, line := range strings.Split(string(raw), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		models = append(models, s)
	}
	return models, nil
}
