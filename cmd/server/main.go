// Package main 是服务端的入口点
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

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"persona-chat/internal/cache"
	"persona-chat/internal/compressor"
	"persona-chat/internal/config"
	"persona-chat/internal/handler"
	"persona-chat/internal/memory"
	"persona-chat/internal/middleware"
	"persona-chat/internal/provider"
	"persona-chat/internal/repository"
	"persona-chat/internal/service"
	"persona-chat/internal/websocket"
	"persona-chat/internal/worker"
	"persona-chat/pkg/jwt"
	"persona-chat/pkg/response"
)

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	// 初始化数据库
	db, err := repository.OpenDatabase(cfg.Database, cfg.Server.Mode)
	if err != nil {
		fatal("failed to init database", err)
	}
	slog.Info("database connected", "driver", cfg.Database.Driver)

	// 自动迁移数据库表
	if err := repository.AutoMigrate(db); err != nil {
		fatal("failed to migrate database", err)
	}

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		fatal("failed to init redis", err)
	}

	// 初始化 JWT 服务
	jwtService := jwt.NewJWTService(
		cfg.JWT.Secret,
		cfg.JWT.AccessExpire,
		cfg.JWT.RefreshExpire,
	)

	// 初始化模型供应商
	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	providers, err := provider.FromConfig(rootCtx, cfg.AI)
	if err != nil {
		fatal("failed to init ai providers", err)
	}
	// 摘要和记忆更新固定使用同一个模型
	maintenance, err := providers.Maintenance(cfg.Chat.SummaryProvider, cfg.Chat.SummaryModel)
	if err != nil {
		fatal("failed to init summary provider", err)
	}
	historyCompressor := compressor.New(maintenance,
		compressor.WithMaxMessages(cfg.Chat.MaxMessages),
		compressor.WithLogger(slog.Default().With("component", "compressor")),
	)

	// 后台任务池
	pool := worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, cfg.Worker.TaskTimeout)
	pool.Start()

	// 初始化 Repository 层
	userRepo := repository.NewUserRepository(db)
	characterRepo := repository.NewCharacterRepository(db)
	chatRepo := repository.NewChatRepository(db)
	relationRepo := repository.NewRelationRepository(db)
	interactionRepo := repository.NewInteractionRepository(db)

	// 实时推送，事件经 Redis 分发到每个实例
	wsHub := websocket.NewHub(redisCache)
	subscription := redisCache.SubscribeUserEvents(rootCtx)
	go wsHub.Run(rootCtx, subscription.Channel())

	// 用户记忆
	memoryUpdater := memory.NewUpdater(relationRepo, maintenance, cfg.Memory)
	memoryUpdater.SetNotifier(wsHub)
	memoryDispatcher := memory.NewDispatcher(memoryUpdater, pool)

	// 初始化 Service 层
	analyticsService := service.NewAnalyticsService(interactionRepo, characterRepo, redisCache, cfg.Analytics)
	authService := service.NewAuthService(userRepo, redisCache, jwtService)
	userService := service.NewUserService(userRepo, characterRepo, memoryUpdater)

	characterService := service.NewCharacterService(characterRepo)
	characterService.SetInteractionRecorder(analyticsService, pool)

	chatService := service.NewChatService(chatRepo, characterRepo, userRepo, providers, historyCompressor, service.ChatServiceConfig{
		DefaultProvider: cfg.AI.DefaultProvider,
		TurnLockTTL:     cfg.Chat.TurnLockTTL,
	})
	chatService.SetTurnLocker(redisCache)
	chatService.SetMemoryScheduler(memoryDispatcher)
	chatService.SetInteractionRecorder(analyticsService, pool)
	chatService.SetNotifier(wsHub)

	// 预置角色
	if n, err := characterService.SeedDefaults(rootCtx); err != nil {
		slog.Warn("seed default characters failed", "error", err)
	} else if n > 0 {
		slog.Info("seeded default characters", "count", n)
	}
	analyticsService.StartRetentionLoop(rootCtx)

	// 初始化 Handler 层
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService, analyticsService)
	characterHandler := handler.NewCharacterHandler(characterService, analyticsService)
	chatHandler := handler.NewChatHandler(chatService)
	wsHandler := websocket.NewHandler(wsHub, jwtService, redisCache)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig(cfg.Server.CORS...)))

	// 健康检查
	router.GET("/health", healthCheck(db, redisCache))

	// API v1 路由组
	v1 := router.Group("/api/v1")
	auth := middleware.AuthMiddleware(jwtService, redisCache)
	optionalAuth := middleware.OptionalAuthMiddleware(jwtService, redisCache)

	authHandler.RegisterRoutes(v1, auth)
	userHandler.RegisterRoutes(v1, auth)
	characterHandler.RegisterRoutes(v1, optionalAuth, auth)
	chatHandler.RegisterRoutes(v1, optionalAuth, auth)
	wsHandler.RegisterRoutes(router)

	// 模型调用可能较慢，写超时要覆盖一次完整的对话轮次
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.TurnBudget() + 10*time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr, "providers", strings.Join(providers.Names(), ","))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server failed", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// 等待已提交的记忆更新和统计写入
	if err := pool.Shutdown(ctx); err != nil {
		slog.Warn("worker pool did not drain", "error", err)
	}

	stop()
	if err := subscription.Close(); err != nil {
		slog.Warn("failed to close subscription", "error", err)
	}
	if err := redisCache.Close(); err != nil {
		slog.Warn("failed to close redis", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	slog.Info("server exited")
}

// setupLogger 按配置设置全局 slog
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// healthCheck 检查数据库和 Redis 是否可用
func healthCheck(db *gorm.DB, redisCache *cache.RedisCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"status": "ok", "database": "ok", "redis": "ok"}
		healthy := true
		if err := repository.Ping(ctx, db); err != nil {
			status["database"] = err.Error()
			healthy = false
		}
		if err := redisCache.Ping(ctx); err != nil {
			status["redis"] = err.Error()
			healthy = false
		}

		if !healthy {
			status["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, response.Response{
				Code:    response.CodeInternalError,
				Message: "unhealthy",
				Data:    status,
			})
			return
		}
		response.Success(c, status)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
