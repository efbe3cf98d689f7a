package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/forgepath/forgepath/internal/auth"
	"github.com/forgepath/forgepath/internal/cert"
	"github.com/forgepath/forgepath/internal/content"
	"github.com/forgepath/forgepath/internal/grading"
	"github.com/forgepath/forgepath/internal/handson"
	"github.com/forgepath/forgepath/internal/llm"
	"github.com/forgepath/forgepath/internal/platform/cache"
	"github.com/forgepath/forgepath/internal/platform/config"
	"github.com/forgepath/forgepath/internal/platform/database"
	"github.com/forgepath/forgepath/internal/progress"
	"github.com/forgepath/forgepath/internal/server"
	"github.com/forgepath/forgepath/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	contentStore, err := content.Load(cfg.ContentPath)
	if err != nil {
		slog.Error("failed to load curriculum", "path", cfg.ContentPath, "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(cfg.Database.URL); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var cacheClient *cache.Cache
	if cfg.Cache.Enabled {
		cacheClient, err = cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			// The memo layer degrades to direct evaluation without Redis.
			slog.Warn("cache unavailable, running without memoization", "error", err)
		} else {
			defer cacheClient.Close()
		}
	}

	progressStore, err := store.NewPostgresStore(db.Pool)
	if err != nil {
		slog.Error("failed to create store", "error", err)
		os.Exit(1)
	}

	router, err := newProviderRouter(cfg)
	if err != nil {
		slog.Error("failed to configure grading providers", "error", err)
		os.Exit(1)
	}

	gh := github.NewClient(nil)
	if cfg.GitHub.Token != "" {
		gh = gh.WithAuthToken(cfg.GitHub.Token)
	}

	var renderer *cert.Renderer
	if cfg.Certificate.FontPath != "" {
		renderer, err = cert.NewRenderer(cfg.Certificate.FontPath, cfg.Certificate.Issuer)
		if err != nil {
			slog.Error("failed to load certificate font", "path", cfg.Certificate.FontPath, "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("certificate rendering disabled, no font configured")
	}

	srv := server.New(server.Options{
		Content:    contentStore,
		Store:      progressStore,
		Memo:       progress.NewMemo(cacheClient, 0),
		Grader:     grading.NewGrader(router),
		Policy:     grading.Policy{MaxFailures: cfg.Grading.MaxFailures, Window: cfg.Grading.LockoutWindow},
		Validator:  handson.NewValidator(gh, nil),
		Renderer:   renderer,
		Auth:       auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		DB:         db,
		Cache:      cacheClient,
		CertIssuer: cfg.Certificate.Issuer,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", httpSrv.Addr, "content_version", contentStore.Version())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// newProviderRouter registers every configured grading provider in fallback
// order: OpenAI, Anthropic, DeepSeek.
func newProviderRouter(cfg *config.Config) (*llm.Router, error) {
	router := llm.NewRouter()

	if cfg.AI.OpenAI.APIKey != "" {
		var opts []llm.OpenAIOption
		if cfg.AI.OpenAI.Model != "" {
			opts = append(opts, llm.WithDefaultModel(cfg.AI.OpenAI.Model))
		}
		router.Register("openai", llm.NewOpenAIProvider(cfg.AI.OpenAI.APIKey, opts...))
	}
	if cfg.AI.Anthropic.APIKey != "" {
		var opts []llm.AnthropicOption
		if cfg.AI.Anthropic.Model != "" {
			opts = append(opts, llm.WithAnthropicModel(cfg.AI.Anthropic.Model))
		}
		p, err := llm.NewAnthropicProvider(cfg.AI.Anthropic.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		router.Register("anthropic", p)
	}
	if cfg.AI.DeepSeek.APIKey != "" {
		router.Register("deepseek", llm.NewDeepSeekProvider(cfg.AI.DeepSeek.APIKey))
	}

	return router, nil
}

func setupLogging(cfg config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
