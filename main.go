package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/config"
	"github.com/LCtech96/Facevoice.AI-sub001/controller"
	"github.com/LCtech96/Facevoice.AI-sub001/dao"
	"github.com/LCtech96/Facevoice.AI-sub001/logger"
	"github.com/LCtech96/Facevoice.AI-sub001/logic"
	"github.com/LCtech96/Facevoice.AI-sub001/middleware"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
	"github.com/LCtech96/Facevoice.AI-sub001/pkg"
)

func main() {
	// Initialize config
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: facevoice-chat <config.yaml>")
		os.Exit(1)
	}
	if err := config.LoadConfig(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	cfg := &config.GlobalConfig

	logger.Init(cfg.Log.Level, cfg.Log.Pretty)

	// Initialize database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	// Initialize broadcast bus and completion client
	broker := bus.NewBroker()
	chatClient := pkg.NewChatClient(cfg.Chat.BaseURL, cfg.Chat.APIKey)

	// Initialize DAOs and the canonical store
	convoDAO := dao.NewConversationDAO(db)
	messageDAO := dao.NewMessageDAO(db)
	store := logic.NewDBStore(convoDAO, messageDAO, broker)

	// Initialize the completion orchestrator
	orch := logic.NewOrchestrator(store, chatClient, cfg.RequestTimeout())

	// Initialize Controllers
	convoCtrl := controller.NewConversationController(store, cfg.Chat.DefaultModel)
	messageCtrl := controller.NewMessageController(store, orch)
	wsCtrl := controller.NewWSController(store, broker)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	corsCfg := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.POST("/conversations", convoCtrl.CreateConversation)
	r.GET("/conversations", convoCtrl.GetConversations)
	r.GET("/conversations/:id", convoCtrl.GetConversation)
	r.PATCH("/conversations/:id/model", convoCtrl.SetModel)
	r.POST("/conversations/:id/messages", messageCtrl.AddMessage)
	r.GET("/conversations/:id/messages", messageCtrl.GetMessages)
	r.GET("/conversations/:id/ws", wsCtrl.Stream)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	broker.Close()
}
