package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/geocrypt/internal/api"
	"github.com/org/geocrypt/internal/auth"
	"github.com/org/geocrypt/internal/core"
	"github.com/org/geocrypt/internal/crypto"
	"github.com/org/geocrypt/internal/mail"
	"github.com/org/geocrypt/internal/storage"
	"github.com/org/geocrypt/internal/wifi"
	"github.com/org/geocrypt/pkg/models"
)

type config struct {
	ListenAddr    string   `yaml:"listen_addr"`
	TLSCertFile   string   `yaml:"tls_cert"`
	TLSKeyFile    string   `yaml:"tls_key"`
	DBUrl         string   `yaml:"db_url"`
	MigrationsDir string   `yaml:"migrations_dir"`
	AuthSecret    string   `yaml:"auth_secret"`
	CORSOrigins   []string `yaml:"cors_origins"`
	CryptoWorkers int      `yaml:"crypto_workers"`
	RateRPS       float64  `yaml:"rate_rps"`
	RateBurst     int      `yaml:"rate_burst"`
	CookieSecure  bool     `yaml:"cookie_secure"`
	LogLevel      string   `yaml:"log_level"`

	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`

	Geofence models.AccessPolicy `yaml:"geofence"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("GEOCRYPT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8400",
		MigrationsDir: "migrations",
		LogLevel:      "info",
		AdminUsername: "admin",
		Geofence: models.AccessPolicy{
			Latitude:    40.7128,
			Longitude:   -74.0060,
			RadiusM:     100,
			AllowedSSID: "Office-WiFi",
			StartTime:   "09:00",
			EndTime:     "18:00",
		},
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("GEOCRYPT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("GEOCRYPT_AUTH_SECRET"); v != "" {
		cfg.AuthSecret = v
	}
	if v := os.Getenv("GEOCRYPT_ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}
	if cfg.AuthSecret == "" {
		log.Fatal().Msg("auth_secret must be configured (or GEOCRYPT_AUTH_SECRET env var)")
	}

	ctx := context.Background()

	// Connect to database
	store, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	keys, err := loadOrCreateKeys(ctx, store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load service keypair")
	}
	log.Info().Str("mode", string(keys.Mode())).Bool("pqc", keys.PQCAvailable()).Msg("service keypair ready")

	if err := bootstrap(ctx, store, cfg); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	srv, err := api.NewServer(store, keys, mail.NewLogMailer(), wifi.NewEnvDetector(), api.Config{
		ListenAddr:    cfg.ListenAddr,
		TLSCertFile:   cfg.TLSCertFile,
		TLSKeyFile:    cfg.TLSKeyFile,
		DBUrl:         cfg.DBUrl,
		MigrationsDir: cfg.MigrationsDir,
		AuthSecret:    cfg.AuthSecret,
		CORSOrigins:   cfg.CORSOrigins,
		CryptoWorkers: cfg.CryptoWorkers,
		RateRPS:       cfg.RateRPS,
		RateBurst:     cfg.RateBurst,
		CookieSecure:  cfg.CookieSecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create server")
	}

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

// loadOrCreateKeys restores the persisted service keypair so wrapped
// per-file keys survive restarts, generating and persisting a fresh one
// on first boot.
func loadOrCreateKeys(ctx context.Context, store storage.Store) (*core.KeyManager, error) {
	mode, public, secret, err := store.GetServiceKeypair(ctx)
	switch {
	case err == nil:
		return core.NewKeyManagerFromKeypair(&crypto.Keypair{
			Mode:   crypto.Mode(mode),
			Public: public,
			Secret: secret,
		})
	case errors.Is(err, storage.ErrNotFound):
		keys, err := core.NewKeyManager()
		if err != nil {
			return nil, err
		}
		kp := keys.Keypair()
		if err := store.PutServiceKeypair(ctx, string(kp.Mode), kp.Public, kp.Secret); err != nil {
			return nil, err
		}
		return keys, nil
	default:
		return nil, err
	}
}

// bootstrap seeds the admin account and the geofence policy if they do
// not exist yet. A generated admin password is printed once; change it
// immediately.
func bootstrap(ctx context.Context, store storage.Store, cfg config) error {
	if _, err := store.GetPrincipal(ctx, cfg.AdminUsername); errors.Is(err, storage.ErrNotFound) {
		password := cfg.AdminPassword
		generated := false
		if password == "" {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			password = crypto.KeyToString(key)[:16]
			generated = true
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		p := &models.Principal{
			Username:     cfg.AdminUsername,
			Email:        cfg.AdminEmail,
			PasswordHash: hash,
			Role:         models.RoleAdmin,
			Active:       true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.CreatePrincipal(ctx, p); err != nil {
			return err
		}
		ev := log.Info().Str("username", cfg.AdminUsername)
		if generated {
			ev = ev.Str("password", password)
		}
		ev.Msg("admin account created")
	} else if err != nil {
		return err
	}

	if _, err := store.GetAccessPolicy(ctx); errors.Is(err, storage.ErrNotFound) {
		if err := store.PutAccessPolicy(ctx, &cfg.Geofence); err != nil {
			return err
		}
		log.Info().Msg("default geofence policy installed")
	} else if err != nil {
		return err
	}
	return nil
}
