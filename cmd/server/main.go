package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/3588044667HZ/LightMessage-backend/config"
	"github.com/3588044667HZ/LightMessage-backend/internal/handler"
	"github.com/3588044667HZ/LightMessage-backend/internal/model"
	"github.com/3588044667HZ/LightMessage-backend/internal/repository"
	"github.com/3588044667HZ/LightMessage-backend/internal/service"
	dbPkg "github.com/3588044667HZ/LightMessage-backend/pkg/db"
	"github.com/3588044667HZ/LightMessage-backend/pkg/jwt"
	"github.com/3588044667HZ/LightMessage-backend/pkg/logger"
	redisPkg "github.com/3588044667HZ/LightMessage-backend/pkg/redis"
	"github.com/3588044667HZ/LightMessage-backend/pkg/response"
	"github.com/3588044667HZ/LightMessage-backend/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== LightMessage 启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.String("redis_host", cfg.Redis.Host),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Duration("heartbeat_timeout", cfg.WebSocket.HeartbeatTimeout),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	if _, err := dbPkg.InitDB(cfg.Database); err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(
		&model.User{},
		&model.Contact{},
		&model.Group{},
		&model.GroupMember{},
		&model.Message{},
	); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 初始化Redis（离线队列与在线状态缓存）
	if err := redisPkg.InitRedis(cfg.Redis); err != nil {
		log.Fatal("Redis连接失败", zap.Error(err))
	}
	defer func() {
		if err := redisPkg.Close(); err != nil {
			log.Error("关闭Redis连接失败", zap.Error(err))
		}
	}()
	log.Info("Redis连接成功")

	// 3.3 初始化业务服务与长连接服务
	db := dbPkg.GetDB()
	tokenSvc := jwt.NewTokenService(cfg.JWT)
	userRepo := repository.NewUserRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	userSvc := service.NewUserService(userRepo, tokenSvc)
	messageSvc := service.NewMessageService(messageRepo, userRepo, groupRepo)
	userHandler := handler.NewUserHandler(userSvc)

	wsServer := websocket.NewServer(
		cfg.WebSocket,
		tokenSvc,
		userSvc,
		messageSvc,
		userRepo,
		groupRepo,
		redisPkg.NewOfflineStore(),
	)

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()
	router.Use(logger.LoggerMiddleware())
	router.Use(logger.ErrorLoggerMiddleware())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := dbPkg.HealthCheck(); err != nil {
			status = "db-down"
		} else if err := redisPkg.HealthCheck(); err != nil {
			status = "redis-down"
		}
		response.Success(c, gin.H{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 头像静态文件
	router.Static(cfg.Avatar.Route, cfg.Avatar.Dir)

	// HTTP接口：注册与公开资料
	v1 := router.Group("/api/v1")
	{
		v1.POST("/users/register", userHandler.Register)
		v1.GET("/users", userHandler.Directory)
		v1.GET("/users/:id", userHandler.Profile)
	}

	// WebSocket入口
	router.GET("/ws", wsServer.WsHandler)

	// 6. 启动心跳巡检
	supervisorCtx, stopSupervisor := context.WithCancel(context.Background())
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		wsServer.RunHeartbeatChecker(supervisorCtx)
	}()

	// 7. 创建并启动HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 8. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	// 等心跳巡检观察到取消后再退出
	stopSupervisor()
	select {
	case <-supervisorDone:
	case <-ctx.Done():
		log.Warn("等待心跳巡检退出超时")
	}

	log.Info("服务器已安全关闭")
}
