package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/ledger"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/moderation"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	msgrouter "messenger-service/internal/router"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTracing := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	if eventsPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPublisher)
	}

	audit := telemetry.NewAuditEmitter(publisher, "audit.messenger", cfg.ServiceName, cfg.Environment)

	userRepo := repositories.NewUserRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	groupRepo := repositories.NewGroupRepo(database)

	gate := moderation.NewRegexGate()

	rooms := presence.NewRoomIndex()
	registry := presence.NewRegistry(rooms)
	led := ledger.New()

	hub := ws.NewHub()
	deliveryRouter := msgrouter.New(registry, rooms, led, groupRepo, messageRepo, hub)

	registry.OnPresenceChanged(func(online []int64) {
		hub.Broadcast(models.WireEvent{Type: models.EventPresenceSnapshot, UserIDs: online})
	})

	messageHandler := handlers.NewMessageHandler(userRepo, messageRepo, led, deliveryRouter, gate, audit)
	groupHandler := handlers.NewGroupHandler(groupRepo, messageRepo, led, deliveryRouter, gate, audit)
	wsHandler := ws.NewHandler(hub, registry, rooms, led, deliveryRouter, groupRepo, messageRepo, userRepo, cfg.JWTSecret)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": cfg.ServiceName})
	})

	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	router.GET("/api/messages/users", authMiddleware, messageHandler.ListUsers)
	router.GET("/api/messages/:id", authMiddleware, messageHandler.GetConversation)
	router.POST("/api/messages/send/:id", authMiddleware, messageHandler.SendMessage)
	router.PUT("/api/messages/mark/:id", authMiddleware, messageHandler.MarkMessageSeen)
	router.PUT("/api/messages/edit/:id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/api/messages/delete/:id", authMiddleware, messageHandler.DeleteChat)
	router.DELETE("/api/messages/clear/:id", authMiddleware, messageHandler.ClearChat)

	router.POST("/api/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/api/groups", authMiddleware, groupHandler.ListGroups)
	router.GET("/api/groups/:group_id/messages", authMiddleware, groupHandler.GetGroupMessages)
	router.POST("/api/groups/:group_id/messages", authMiddleware, groupHandler.PostGroupMessage)
	router.PUT("/api/groups/rename/:group_id", authMiddleware, groupHandler.RenameGroup)
	router.PUT("/api/groups/add/:group_id", authMiddleware, groupHandler.AddMember)
	router.PUT("/api/groups/remove/:group_id", authMiddleware, groupHandler.RemoveMember)
	router.DELETE("/api/groups/clear/:group_id", authMiddleware, groupHandler.ClearGroupChat)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
