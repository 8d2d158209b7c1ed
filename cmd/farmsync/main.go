package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agromind-map/internal/application"
	"agromind-map/internal/config"
	domainrepo "agromind-map/internal/domain/repository"
	"agromind-map/internal/domain/service"
	"agromind-map/internal/infrastructure/api"
	"agromind-map/internal/infrastructure/kv"
	"agromind-map/internal/logger"
	"agromind-map/internal/repository"
)

var (
	configPath string
	verbose    bool

	// コマンド実行前に PersistentPreRunE で組み立てる
	app *appContext
)

// appContext 各コマンドが共有する依存
type appContext struct {
	cfg    *config.Config
	logger *zap.Logger
	store  domainrepo.KVStore
	close  func() error
	cache  *repository.KVLocalCache
	svc    *application.MapSyncService
}

var rootCmd = &cobra.Command{
	Use:   "farmsync",
	Short: "AgroMind farm map client",
	Long: `farmsync drives a farm map drawing session against the AgroMind backend.

Edits are kept in a local cache (SQLite by default) and written to the backend
as debounced full-replace saves. When the backend answers with an empty map
while the cache still holds drawings, the cache is kept and pushed back.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		zl, err := logger.New(cfg.LogLevel, verbose)
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(cmd, cfg)
		if err != nil {
			return err
		}
		cache := repository.NewKVLocalCache(store)
		client := api.NewClient(cfg.Client.APIURL, cache)

		app = &appContext{
			cfg:    cfg,
			logger: zl,
			store:  store,
			close:  closeStore,
			cache:  cache,
			svc: application.NewMapSyncService(application.MapSyncDeps{
				Auth:    client,
				Farms:   client,
				Remote:  client,
				Session: cache,
				Cache:   cache,
			}, service.ReconcilerOptions{Debounce: cfg.Client.Debounce, Logger: zl}),
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if app == nil {
			return
		}
		if err := app.close(); err != nil {
			app.logger.Warn("could not close local cache", zap.Error(err))
		}
		_ = app.logger.Sync()
	},
}

// openStore AGROMIND_CACHE_DRIVER に応じたキー・バリューストアを開く
func openStore(cmd *cobra.Command, cfg *config.Config) (domainrepo.KVStore, func() error, error) {
	switch cfg.Client.CacheDriver {
	case "memory":
		return kv.NewMemoryStore(), func() error { return nil }, nil
	case "", "sqlite":
		s, err := kv.OpenSQLite(cfg.Client.CachePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s := kv.NewRedisStore(kv.RedisOptions{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   "agromind:",
		})
		if err := s.Ping(cmd.Context()); err != nil {
			s.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("未対応のキャッシュドライバ: %s", cfg.Client.CacheDriver)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(
		loginCmd,
		logoutCmd,
		farmsCmd,
		loadCmd,
		addCmd,
		setCmd,
		componentCmd,
		deleteCmd,
		countsCmd,
		viewCmd,
		focusCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
