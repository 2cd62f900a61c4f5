package main

import (
	"context"
	"net/http"

	"github.com/embedchat/chatd/internal/api"
	"github.com/embedchat/chatd/internal/chat"
	"github.com/embedchat/chatd/internal/config"
	"github.com/embedchat/chatd/internal/db"
	"github.com/embedchat/chatd/internal/extract"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	// Seed the configured properties so their widgets resolve.
	for _, id := range cfg.PropertyIDs {
		if err := database.EnsureProperty(context.Background(), id, ""); err != nil {
			logger.Fatal("failed to seed property", zap.Error(err), zap.String("property_id", id))
		}
	}

	extractor, err := extract.NewLLMExtractor(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	if err != nil {
		logger.Fatal("failed to initialize extractor", zap.Error(err))
	}

	svc := chat.NewService(database, logger)
	extractClient := extract.NewClient(database, extractor, logger, cfg.ExtractRetries)
	handler := api.NewHandler(svc, extractClient, logger, cfg.Greeting)

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler.Routes()); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
