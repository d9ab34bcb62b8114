package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/config"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/library"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/recommend"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/server"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shelf-api",
		Short: "Shelf book review backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reindex",
		Short: "Rebuild review indexes, rating aggregates, and the top-rated view from the stored reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context())
		},
	})

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("storage-driver", defaults.GetString("storage.driver"), "Record storage driver (filesystem, sqlite)")
	flags.String("data-dir", defaults.GetString("storage.data_dir"), "Root directory of the filesystem store")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	flags.String("signing-secret", "", "Backend signing secret (overrides env)")
	flags.Duration("recommend-cache-ttl", defaults.GetDuration("recommend.cache_ttl"), "Recommendation cache entry lifetime")
	flags.Int("recommend-cache-capacity", defaults.GetInt("recommend.cache_capacity"), "Maximum cached users (0 for unbounded)")
	flags.String("personalizer-base-url", defaults.GetString("personalizer.base_url"), "Personalizer API base URL")
	flags.String("personalizer-model", defaults.GetString("personalizer.model"), "Personalizer model name")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "storage.data_dir", "data-dir")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "recommend.cache_ttl", "recommend-cache-ttl")
	bindFlag(cmd, "recommend.cache_capacity", "recommend-cache-capacity")
	bindFlag(cmd, "personalizer.base_url", "personalizer-base-url")
	bindFlag(cmd, "personalizer.model", "personalizer-model")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stores, err := openStorage(appConfig, logger)
	if err != nil {
		return err
	}
	defer stores.Close() //nolint:errcheck

	handler, err := buildHandler(appConfig, stores, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_driver", appConfig.StorageDriver),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildHandler wires the services over the opened storage into the HTTP handler.
func buildHandler(appConfig config.AppConfig, stores storage, logger *zap.Logger) (http.Handler, error) {
	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "shelf-auth",
		Audience:      "shelf-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	cache := recommend.NewCache(recommend.CacheConfig{
		TTL:      appConfig.RecommendCacheTTL,
		Capacity: appConfig.RecommendCacheCapacity,
	})

	libraryService, err := library.NewService(library.ServiceConfig{
		Backend:     stores.backend,
		Indexes:     stores.indexes,
		Clock:       time.Now,
		IDProvider:  library.NewUUIDProvider(),
		Logger:      logger,
		Invalidator: cache,
	})
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Backend: stores.backend,
		Indexes: stores.indexes,
		Clock:   time.Now,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	var personalizer recommend.Personalizer
	if appConfig.PersonalizationEnabled() {
		client, err := recommend.NewClient(recommend.ClientConfig{
			BaseURL: appConfig.PersonalizerBaseURL,
			APIKey:  appConfig.PersonalizerAPIKey,
			Model:   appConfig.PersonalizerModel,
			Timeout: appConfig.PersonalizerTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		personalizer = client
	} else {
		logger.Info("personalizer disabled, serving basic recommendations")
	}

	recommendService, err := recommend.NewService(recommend.ServiceConfig{
		Catalog:       libraryService,
		Profiles:      userService,
		Personalizer:  personalizer,
		Cache:         cache,
		MinRating:     appConfig.RecommendMinRating,
		CacheDepth:    appConfig.RecommendCacheDepth,
		CatalogSample: appConfig.PersonalizerCatalogSample,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	return server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		Library:        libraryService,
		Users:          userService,
		Recommendation: recommendService,
		Logger:         logger,
	})
}

func runReindex(ctx context.Context) error {
	appConfig, err := config.LoadStorage(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stores, err := openStorage(appConfig, logger)
	if err != nil {
		return err
	}
	defer stores.Close() //nolint:errcheck

	report, err := reindexStorage(ctx, stores, logger)
	if err != nil {
		return err
	}
	return report.Effects.Err()
}

func reindexStorage(ctx context.Context, stores storage, logger *zap.Logger) (library.ReindexReport, error) {
	libraryService, err := library.NewService(library.ServiceConfig{
		Backend:    stores.backend,
		Indexes:    stores.indexes,
		Clock:      time.Now,
		IDProvider: library.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return library.ReindexReport{}, err
	}
	return libraryService.Reindex(ctx)
}
