package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/evermind-ai/companion/pkg/api"
	"github.com/evermind-ai/companion/pkg/bonding"
	"github.com/evermind-ai/companion/pkg/embed"
	"github.com/evermind-ai/companion/pkg/memory"
	"github.com/evermind-ai/companion/pkg/model"
	"github.com/evermind-ai/companion/pkg/store/sqlite"
	"github.com/evermind-ai/companion/pkg/store/vector"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := loadConfig()

	ctx := context.Background()
	db, err := sqlite.New(ctx, sqlite.Config{Path: cfg.DBPath, Logger: logger})
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("failed to init embedder: %v", err)
	}

	index := vector.New()
	bondingEngine := bonding.New(db, bonding.Options{
		CreateMissing: cfg.CreateMissingProfiles,
		OpTimeout:     cfg.OpTimeout,
		Logger:        logger,
	})
	memoryEngine := memory.New(db, index, embedder, bondingEngine, memory.Options{
		Lookahead: cfg.Lookahead,
		OpTimeout: cfg.OpTimeout,
		Logger:    logger,
	})
	if err := memoryEngine.Rebuild(ctx); err != nil {
		log.Fatalf("failed to rebuild vector index: %v", err)
	}

	if cfg.ConsolidateEvery > 0 {
		go consolidationLoop(ctx, memoryEngine, db, cfg, logger)
	}

	server := api.New(bondingEngine, memoryEngine, logger)
	logger.Info("starting companion server", "addr", cfg.ListenAddr, "db", cfg.DBPath,
		"embedder", cfg.EmbedProvider)
	if err := http.ListenAndServe(cfg.ListenAddr, server.Router()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// ------------ config & helpers ------------

type config struct {
	ListenAddr            string
	DBPath                string
	CreateMissingProfiles bool
	OpTimeout             time.Duration
	Lookahead             time.Duration
	ConsolidateEvery      time.Duration
	ConsolidateThreshold  float64
	EmbedProvider         string
	EmbedModel            string
	EmbedURL              string
	EmbedDim              int
	EmbedCacheSize        int
}

func loadConfig() config {
	return config{
		ListenAddr:            getenv("COMPANION_LISTEN_ADDR", ":8080"),
		DBPath:                getenv("COMPANION_DB_PATH", "companion.db"),
		CreateMissingProfiles: getenvBool("COMPANION_CREATE_MISSING_PROFILES", true),
		OpTimeout:             getenvDuration("COMPANION_OP_TIMEOUT", 5*time.Second),
		Lookahead:             getenvDuration("COMPANION_LOOKAHEAD", 7*24*time.Hour),
		ConsolidateEvery:      getenvDuration("COMPANION_CONSOLIDATE_EVERY", 0),
		ConsolidateThreshold:  getenvFloat("COMPANION_CONSOLIDATE_THRESHOLD", 0.8),
		EmbedProvider:         getenv("COMPANION_EMBED_PROVIDER", "hash"),
		EmbedModel:            os.Getenv("COMPANION_EMBED_MODEL"),
		EmbedURL:              os.Getenv("COMPANION_EMBED_URL"),
		EmbedDim:              getenvInt("COMPANION_EMBED_DIM", 0),
		EmbedCacheSize:        getenvInt("COMPANION_EMBED_CACHE_SIZE", 4096),
	}
}

// buildEmbedder wires the configured provider behind an embedding cache.
// The deterministic hash embedder needs no cache and no network.
func buildEmbedder(cfg config) (embed.Embedder, error) {
	switch cfg.EmbedProvider {
	case "", "hash":
		return embed.NewHash(cfg.EmbedDim), nil
	case "ollama":
		inner := embed.NewOllama(getenv("OLLAMA_HOST", cfg.EmbedURL), cfg.EmbedModel)
		return embed.NewCached(inner, int64(cfg.EmbedCacheSize))
	case "openai":
		inner := embed.NewOpenAI(cfg.EmbedURL, os.Getenv("OPENAI_API_KEY"), cfg.EmbedModel, cfg.EmbedDim)
		return embed.NewCached(inner, int64(cfg.EmbedCacheSize))
	default:
		return nil, errors.New("unknown embed provider " + cfg.EmbedProvider)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// consolidationLoop periodically consolidates every user's memories with
// the default threshold. Users with a consolidation already in flight are
// skipped and picked up next tick.
func consolidationLoop(ctx context.Context, eng *memory.Engine, db *sqlite.Database, cfg config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.ConsolidateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			users, err := db.ListUserIDs(ctx)
			if err != nil {
				logger.Error("list users for consolidation", "err", err)
				continue
			}
			for _, userID := range users {
				if _, err := eng.Consolidate(ctx, userID, cfg.ConsolidateThreshold); err != nil {
					if model.KindOf(err) == model.KindConflict {
						continue
					}
					logger.Error("background consolidation failed", "user", userID, "err", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
