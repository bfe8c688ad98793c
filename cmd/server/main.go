package main

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zenith-chat/zenith/internal/api"
	"github.com/zenith-chat/zenith/internal/auth"
	"github.com/zenith-chat/zenith/internal/config"
	"github.com/zenith-chat/zenith/internal/db"
	"github.com/zenith-chat/zenith/internal/llm"
	"github.com/zenith-chat/zenith/internal/session"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	llmService, err := llm.New(cfg.BaseURL, cfg.APIKey, database, logger)
	if err != nil {
		logger.Fatal("failed to initialize LLM service", zap.Error(err))
	}

	handler := api.NewHandler(database, auth.New(database), session.NewManager(), llmService, logger)

	mux := http.NewServeMux()
	handler.Register(mux)

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
