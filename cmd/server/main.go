package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/couples-chat/internal/ai"
	"github.com/suPer8Hu/couples-chat/internal/auth"
	"github.com/suPer8Hu/couples-chat/internal/chat"
	"github.com/suPer8Hu/couples-chat/internal/config"
	"github.com/suPer8Hu/couples-chat/internal/couples"
	"github.com/suPer8Hu/couples-chat/internal/db"
	"github.com/suPer8Hu/couples-chat/internal/httpapi"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/couples-chat/internal/httpapi/middleware"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/memory"
	"github.com/suPer8Hu/couples-chat/internal/sessions"
	"github.com/suPer8Hu/couples-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/couples-chat/internal/store/redisstore"
	"github.com/suPer8Hu/couples-chat/internal/users"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// newRegistry registers every completion backend; an empty model falls back
// to the configured one.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	pick := func(model, def string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return def
	}
	reg.Register("anthropic", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewAnthropicProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, pick(model, cfg.AnthropicModel), cfg.AnthropicMaxToken), nil
	})
	reg.Register("openrouter", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, pick(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("ollama", func(_ context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, pick(model, cfg.OllamaModel)), nil
	})
	return reg
}

func gormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "error":
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}

func main() {
	cfg := config.Load()

	log, err := logger.Init(cfg.LogLevel, cfg.AppEnv, "couples-chat")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DBDSN,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		LogLevel:        gormLevel(cfg.LogLevel),
	})
	if err != nil {
		log.Fatal("open database", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	// REDIS_ADDR="" runs without token revocation.
	var (
		revoker handlers.TokenRevoker
		revoked middleware.RevocationChecker
	)
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			log.Fatal("redis ping", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rds.Close()
		revoker, revoked = rds, rds
	} else {
		log.Warn("REDIS_ADDR empty, logout will not revoke tokens")
	}

	provider, err := newRegistry(cfg).Get(context.Background(), cfg.AIProvider, "")
	if err != nil {
		log.Fatal("completion provider", zap.Error(err))
	}

	memClient := memory.NewClient(cfg.MemoryBaseURL, cfg.MemoryAPIKey)
	var (
		dispatcher memory.Dispatcher
		inline     *memory.AsyncWriter
	)
	switch cfg.MemoryWriteMode {
	case "rabbit":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher", zap.Error(err))
		}
		defer pub.Close()
		dispatcher = pub
	default:
		inline = memory.NewAsyncWriter(memClient, 30*time.Second)
		dispatcher = inline
	}

	tokenCfg := auth.TokenConfig{
		Secret:   cfg.AuthJWTSecret,
		Audience: cfg.AuthJWTAudience,
		Issuer:   cfg.AuthJWTIssuer,
		TTL:      cfg.AuthTokenTTL,
	}
	coupleSvc := couples.NewService(gdb)
	sessionSvc := sessions.NewService(gdb, coupleSvc)

	h := &handlers.Handler{
		Auth:     auth.NewService(gdb, auth.NewSigner(tokenCfg)),
		Users:    users.NewService(gdb),
		Couples:  coupleSvc,
		Sessions: sessionSvc,
		Chat: chat.NewService(chat.Deps{
			Repo:         chat.NewRepo(gdb),
			Provider:     provider,
			Memories:     memClient,
			Writer:       dispatcher,
			Couples:      coupleSvc,
			Participants: sessionSvc,
			SearchLimit:  cfg.MemorySearchLimit,
		}),
		Revoker: revoker,
	}

	r := httpapi.NewRouter(h, httpapi.AuthDeps{
		Verifier: auth.NewVerifier(tokenCfg),
		Resolver: auth.NewResolver(gdb, cfg.AuthAutoProvision),
		Revoked:  revoked,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("ai_provider", cfg.AIProvider),
			zap.String("memory_write_mode", cfg.MemoryWriteMode),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if inline != nil {
		inline.Wait()
	}
}
