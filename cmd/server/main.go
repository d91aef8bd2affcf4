package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notepad-sync/internal/config"
	"notepad-sync/internal/events"
	"notepad-sync/internal/handler"
	"notepad-sync/internal/presence"
	"notepad-sync/internal/repository"
	"notepad-sync/internal/service"
	"notepad-sync/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Logging.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	noteRepo := repository.NewNoteRepository(client, cfg.Database.Name)
	windowRepo := repository.NewWindowPositionRepository(client, cfg.Database.Name)
	opRepo := repository.NewOperationRepository(client, cfg.Database.Name)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var registry presence.Registry = presence.NewMemoryRegistry()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		registry = presence.NewRedisRegistry(rdb)
		log.Printf("Presence registry: redis at %s", cfg.Redis.Addr)
	}

	var publisher service.OperationPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatalf("Failed to connect to Kafka: %v", err)
		}
		opPublisher := events.NewOperationPublisher(producer, cfg.Kafka.Topic)
		defer opPublisher.Close()
		publisher = opPublisher
		log.Printf("Publishing applied operations to %s", cfg.Kafka.Topic)
	}

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)

	noteService := service.NewNoteService(noteRepo, opRepo, windowRepo, wsManager, publisher)
	presenceService := service.NewPresenceService(registry, wsManager, cfg.Presence.TTL)
	windowService := service.NewWindowService(windowRepo)

	r := handler.NewRouter(handler.RouterConfig{
		JWTSecret:       cfg.JWT.Secret,
		DefaultNoteID:   cfg.Server.DefaultNoteID,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowedMethods:  cfg.CORS.AllowedMethods,
		AllowedHeaders:  cfg.CORS.AllowedHeaders,
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
	}, wsManager, noteService, presenceService, windowService)

	go wsManager.Run(ctx)
	go presenceService.RunSweeper(ctx, cfg.Presence.SweepInterval)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Notepad Sync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	stop()

	log.Println("Server stopped gracefully")
}
