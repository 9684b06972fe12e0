package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shiv248/kolabrooms/internal/durability"
	"github.com/shiv248/kolabrooms/internal/room"
	"github.com/shiv248/kolabrooms/internal/wsserver"
	"github.com/shiv248/kolabrooms/pkg/logger"
)

// Config holds all server configuration, loaded from environment
// variables per spec.md section 6.4.
type Config struct {
	Port                string
	DBHost              string
	DBPort              int
	DBUser              string
	DBPassword          string
	DBName              string
	RoomExpiry          time.Duration
	DebounceWindow      time.Duration
	JanitorInterval     time.Duration
	WSReadTimeout       time.Duration
	WSWriteTimeout      time.Duration
	OutboxBufferSize    int
}

func main() {
	logger.Init()

	config := Config{
		Port:             getEnv("PORT", "3000"),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnvInt("DB_PORT", 5432),
		DBUser:           getEnv("DB_USER", "kolabrooms"),
		DBPassword:       getEnv("DB_PASSWORD", ""),
		DBName:           getEnv("DB_NAME", "kolabrooms"),
		RoomExpiry:       time.Duration(getEnvInt("ROOM_EXPIRY_MINUTES", 30)) * time.Minute,
		DebounceWindow:   time.Duration(getEnvInt("DEBOUNCE_SECONDS", 2)) * time.Second,
		JanitorInterval:  time.Duration(getEnvInt("JANITOR_INTERVAL_MINUTES", 5)) * time.Minute,
		WSReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MINUTES", 30)) * time.Minute,
		WSWriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		OutboxBufferSize: getEnvInt("OUTBOX_BUFFER_SIZE", 32),
	}

	logger.Info("starting kolabrooms server...")
	logger.Info("port: %s", config.Port)

	// Wiring order: the durability handle is opened first, then the
	// registry is constructed once, wired to the debounced writer. If the
	// database is unreachable the registry is built with no persister and
	// runs in-memory only.
	var persister room.Persister
	var writer *durability.Writer
	store, err := durability.Open(durability.Config{
		Host:     config.DBHost,
		Port:     config.DBPort,
		User:     config.DBUser,
		Password: config.DBPassword,
		Name:     config.DBName,
	})
	if err != nil {
		logger.Warn("durability layer unavailable, continuing in-memory only: %v", err)
	} else {
		defer store.Close()
		writer = durability.NewWriter(store, config.DebounceWindow)
		persister = writer
	}

	registry := room.NewRegistry(room.Options{
		Persister:  persister,
		Expiry:     config.RoomExpiry,
		OutboxSize: config.OutboxBufferSize,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go registry.StartJanitor(config.JanitorInterval, stop)

	srv := wsserver.NewServer(registry, wsserver.Options{
		ReadTimeout:  config.WSReadTimeout,
		WriteTimeout: config.WSWriteTimeout,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down...")
		close(stop)
		cancel()
		if writer != nil {
			writer.Flush()
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", config.Port)
	log.Fatal(srv.ListenAndServe(addr))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
