package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitechat-go/internal/config"
	"sitechat-go/internal/handler"
	"sitechat-go/internal/middleware"
	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/internal/service"
	"sitechat-go/pkg/database"
	"sitechat-go/pkg/kafka"
	"sitechat-go/pkg/llm"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/scraper"
	"sitechat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")

	// 2. 初始化日志
	log.Init(config.Conf.Log.Level, config.Conf.Log.Format, config.Conf.Log.OutputPath)
	defer log.Sync()
	log.Info("配置和日志初始化成功")

	// 3. 初始化数据库连接
	database.InitMySQL(config.Conf.Database.MySQL.DSN)
	database.InitRedis(config.Conf.Database.Redis.Addr, config.Conf.Database.Redis.Password, config.Conf.Database.Redis.DB)

	// 4. 初始化 Kafka 生产者（未启用时为空操作）
	kafka.InitProducer(config.Conf.Kafka)
	defer kafka.Close()

	// 5. 自动迁移数据库表结构
	if err := database.DB.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	log.Info("数据库迁移成功")

	// 6. 依赖注入
	jwtManager := token.NewJWTManager(
		config.Conf.JWT.Secret,
		config.Conf.JWT.AccessTokenExpireHours,
		config.Conf.JWT.RefreshTokenExpireDays,
	)
	scraperClient := scraper.NewClient(config.Conf.Scraper)
	llmClient := llm.NewClient(config.Conf.LLM)

	userRepo := repository.NewUserRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	contextRepo := repository.NewContextRepository(database.RDB)

	userService := service.NewUserService(userRepo, jwtManager)
	conversationService := service.NewConversationService(conversationRepo, messageRepo)
	contextCache := service.NewContextCache(contextRepo)
	chatService := service.NewChatService(conversationService, contextCache, messageRepo, scraperClient, llmClient)

	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	chatHandler := handler.NewChatHandler(chatService, conversationService, userService, jwtManager)

	// 7. 设置 Gin 路由
	gin.SetMode(config.Conf.Server.Mode)
	router := gin.New()
	router.Use(middleware.RequestLogger(), gin.Recovery())

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/register", userHandler.Register)
		apiV1.POST("/login", userHandler.Login)
		apiV1.POST("/refreshToken", authHandler.RefreshToken)

		authed := apiV1.Group("")
		authed.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			authed.GET("/me", userHandler.GetProfile)
			authed.POST("/logout", userHandler.Logout)

			authed.POST("/chat/message", chatHandler.SendMessage)
			authed.POST("/chat/new", chatHandler.NewChat)
			authed.GET("/chat/history", conversationHandler.GetHistory)
			authed.GET("/chat/ws-token", chatHandler.GetWebsocketToken)
			authed.GET("/chat/:conversationId", conversationHandler.GetConversation)
		}
	}

	// WebSocket 握手无法携带请求头，token 经由路径校验
	router.GET("/ws/chat/:token", chatHandler.HandleWebsocket)

	// 8. 启动服务器并实现优雅关机
	srv := &http.Server{
		Addr:    ":" + config.Conf.Server.Port,
		Handler: router,
	}

	go func() {
		log.Infof("服务器启动，监听端口: %s", config.Conf.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("服务器被强制关闭", err)
	}

	log.Info("服务器已退出")
}
