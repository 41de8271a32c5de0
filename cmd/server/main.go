package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkarlsen/go-chatrelay/internal/api"
	"github.com/dkarlsen/go-chatrelay/internal/config"
	"github.com/dkarlsen/go-chatrelay/internal/database"
	"github.com/dkarlsen/go-chatrelay/internal/generator"
	"github.com/dkarlsen/go-chatrelay/internal/server"
	"github.com/dkarlsen/go-chatrelay/internal/service"
	"github.com/dkarlsen/go-chatrelay/internal/stats"
	_ "github.com/lib/pq"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	geminiModel    string
	genTimeout     time.Duration
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.StringVar(&geminiModel, "gemini-model", "", "Gemini model used for reply generation")
	flag.DurationVar(&genTimeout, "generation-timeout", 0, "timeout for a single reply generation call")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-relay] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, os.Getenv("GEMINI_API_KEY"), geminiModel, genTimeout)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	for _, metric := range []string{
		stats.ActiveConnections,
		stats.ActiveRooms,
		stats.MessagesRelayed,
		stats.RepliesGenerated,
		stats.GenerationFailures,
	} {
		statsUpdater.RegisterMetric(metric)
	}

	gen, err := generator.NewGeminiGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Fatal("generator:", err)
	}

	registry := server.NewRoomRegistry(logger, statsUpdater)
	engine := server.NewRelayEngine(logger, dbConn, registry, gen, statsUpdater, cfg.GenerationTimeout)
	chatServer := server.NewChatServer(logger, registry, engine, statsUpdater)
	conversations := service.NewConversationService(logger, dbConn, registry)

	srv := api.NewChatRelayApp(mux, logger, chatServer, dbConn, conversations, statsUpdater, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	chatServer.Shutdown()

	logger.Println("shutdown complete")
}
