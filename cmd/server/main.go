package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/voicebothq/voicebot-service/internal/config"
	"github.com/voicebothq/voicebot-service/internal/handler"
	"github.com/voicebothq/voicebot-service/pkg/logger"
)

// Server represents the voicebot webhook server
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer creates a new voicebot server
func NewServer(cfg *config.Config) *Server {
	router := mux.NewRouter()

	// Initialize handler manager - it will create all services internally
	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the voicebot server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("starting server",
		zap.String("addr", addr),
		zap.String("instance_id", s.config.InstanceID))
	return server.ListenAndServe()
}

func main() {
	// Load .env if present; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		logger.Base().Info("no .env file found, using environment variables")
	}

	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("failed to initialize zap logger, falling back to std log")
	}
	defer logger.Sync()

	cfg := config.LoadFromEnv()

	server := NewServer(cfg)
	if server == nil {
		logger.Base().Fatal("failed to initialize server")
	}

	if err := server.Start(); err != nil {
		logger.Base().Fatal("server stopped", zap.Error(err))
	}
}
