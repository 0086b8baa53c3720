package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"crm-messaging/internal/config"
	"crm-messaging/internal/db"
	"crm-messaging/internal/handlers"
	"crm-messaging/internal/middleware"
	"crm-messaging/internal/observability"
	"crm-messaging/internal/rabbitmq"
	"crm-messaging/internal/repositories"
	"crm-messaging/internal/telemetry"
	"crm-messaging/internal/ws"
)

const serviceName = "crm-messaging"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(), serviceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))

	if cfg.AMQPURL != "" {
		// Session analytics ride a dedicated channel so they cannot
		// back up audit or notification traffic.
		if events, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
			observability.SetPublisher(events)
			defer events.Close()
		} else {
			log.Printf("session event publisher disabled: %v", err)
		}
	}

	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, serviceName, cfg.Environment)
	notify := telemetry.NewNotifyEmitter(publisher, cfg.NotifyRouting, serviceName)

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	voiceRepo := repositories.NewVoiceRepo(database)

	hub := ws.NewHub()

	conversationHandler := handlers.NewConversationHandler(convRepo, hub, audit)
	messageHandler := handlers.NewMessageHandler(convRepo, messageRepo, hub, audit)
	voiceHandler := handlers.NewVoiceHandler(convRepo, messageRepo, voiceRepo, hub)
	notifyHandler := handlers.NewNotifyHandler(notify)
	sessionWS := ws.NewSessionHandler(hub, convRepo)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	identity := middleware.Identity()

	router.GET("/conversations", identity, conversationHandler.List)
	router.POST("/conversations/direct", identity, conversationHandler.StartDirect)
	router.POST("/conversations/group", identity, conversationHandler.CreateGroup)
	router.PUT("/conversations/:conversation_id/lock", identity, conversationHandler.SetLocked)
	router.POST("/conversations/:conversation_id/participants", identity, conversationHandler.AddParticipant)
	router.DELETE("/conversations/:conversation_id/participants/:user_id", identity, conversationHandler.RemoveParticipant)

	router.GET("/conversations/:conversation_id/messages", identity, messageHandler.List)
	router.POST("/conversations/:conversation_id/messages", identity, messageHandler.Create)
	router.PUT("/conversations/:conversation_id/messages/:message_id", identity, messageHandler.Edit)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", identity, messageHandler.Delete)
	router.POST("/messages/:message_id/reactions", identity, messageHandler.ToggleReaction)
	router.POST("/receipts", identity, messageHandler.PostReceipts)
	router.GET("/receipts", identity, messageHandler.GetReceipts)
	router.GET("/conversations/:conversation_id/messages/:message_id/voice", identity, voiceHandler.GetChunks)

	router.POST("/voice/sessions", identity, voiceHandler.CreateSession)
	router.PUT("/voice/sessions/:token/chunks", identity, voiceHandler.UploadChunk)
	router.POST("/voice/sessions/:token/finalize", identity, voiceHandler.Finalize)
	router.DELETE("/voice/sessions/:token", identity, voiceHandler.Cancel)

	router.POST("/notify/offline", identity, notifyHandler.Offline)

	router.GET("/ws", sessionWS.Handle)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
