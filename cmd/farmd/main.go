package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"agromind-map/internal/config"
	"agromind-map/internal/domain/model"
	domainrepo "agromind-map/internal/domain/repository"
	"agromind-map/internal/handler"
	"agromind-map/internal/infrastructure/database"
	"agromind-map/internal/infrastructure/firestore"
	"agromind-map/internal/logger"
	"agromind-map/internal/repository"
	"agromind-map/internal/usecase"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込み失敗: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel, false)
	if err != nil {
		log.Fatalf("ロガー初期化失敗: %v", err)
	}
	defer zl.Sync()

	if cfg.Server.AuthToken == "" || cfg.Server.AuthEmail == "" || cfg.Server.AuthPassword == "" {
		zl.Fatal("⚠️ AUTH_TOKEN, AUTH_EMAIL and AUTH_PASSWORD must be set")
	}

	ctx := context.Background()
	repo, closeRepo, err := openStorage(ctx, cfg.Server, zl)
	if err != nil {
		zl.Fatal("❌ storage initialization failed", zap.String("driver", cfg.Server.StorageDriver), zap.Error(err))
	}
	defer closeRepo()
	zl.Info("✅ storage ready", zap.String("driver", cfg.Server.StorageDriver))

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(
		handler.NewFarmMapHandler(usecase.NewFarmMapUseCase(repo, zl)),
		handler.NewAuthHandler(handler.AuthConfig{
			Token:    cfg.Server.AuthToken,
			Email:    cfg.Server.AuthEmail,
			Password: cfg.Server.AuthPassword,
			User:     model.User{ID: "local", Email: cfg.Server.AuthEmail, Name: "AgroMind"},
		}),
		zl,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("🚀 farmd starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("shutdown did not complete", zap.Error(err))
	}
	zl.Info("👋 farmd stopped")
}

// openStorage STORAGE_DRIVER に応じたリポジトリを作成する
func openStorage(ctx context.Context, cfg config.ServerConfig, zl *zap.Logger) (domainrepo.FarmMapRepository, func(), error) {
	switch cfg.StorageDriver {
	case "", "memory":
		return repository.NewMemoryFarmMapRepository(), func() {}, nil

	case "postgres":
		client, err := database.NewPostgreSQLClient(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPostgresFarmMapRepository(client)
		if err := repo.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		return repo, func() { client.Close() }, nil

	case "supabase":
		client, err := database.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
		if err != nil {
			return nil, nil, err
		}
		if err := client.HealthCheck(); err != nil {
			return nil, nil, err
		}
		return repository.NewSupabaseFarmMapRepository(client), func() {}, nil

	case "firestore":
		client, err := firestore.NewFirestoreClient(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentials, zl)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewFirestoreFarmMapRepository(client.GetClient()), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("未対応のストレージドライバ: %s", cfg.StorageDriver)
}
