package configuration

import (
	"Palaver/internal/db"
	"Palaver/internal/handler"
	"Palaver/internal/hub"
	"Palaver/internal/repo"
	"Palaver/internal/service"
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	ChatHandler    handler.ChatHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	conversationRepo := repo.NewConversationRepository(con, logger)
	messageRepo := repo.NewMessageRepository(con, conversationRepo, logger)
	callRepo := repo.NewCallRepository(con, logger)
	userRepo := repo.NewUserRepository(con)
	authorizer := repo.NewAuthorizer(conversationRepo, callRepo)

	indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := messageRepo.EnsureIndexes(indexCtx); err != nil {
		return nil, err
	}

	chatService := service.NewChatService(conversationRepo, messageRepo, userRepo)
	chatHandler := handler.NewChatHandler(chatService)

	h := hub.NewHub(hub.Options{
		Logger:     logger,
		Authorizer: authorizer,
		Messages:   messageRepo,
		Calls:      callRepo,
		Users:      userRepo,
		LiveKit: hub.LiveKitConfig{
			APIKey:    config.LiveKit.ApiKey,
			APISecret: config.LiveKit.ApiSecret,
			URL:       config.LiveKit.Url,
		},
		TypingTTL:           config.Typing.TTL(),
		TypingSweepInterval: config.Typing.SweepInterval(),
	})
	hub.SetAllowedOrigins(config.Server.AllowedOrigins)

	monitorHandler := handler.NewMonitorHandler(hub.NewMonitorService(h))

	return &Container{
		ChatHandler:    chatHandler,
		MonitorHandler: monitorHandler,
		Hub:            h,
		Config:         *config,
		Logger:         logger,
		mongoClient:    con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
