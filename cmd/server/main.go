package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/passvault/internal/api"
	"github.com/org/passvault/internal/auth"
	"github.com/org/passvault/internal/crypto"
	"github.com/org/passvault/internal/mail"
	"github.com/org/passvault/internal/storage"
)

type smtpConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type config struct {
	ListenAddr    string     `yaml:"listen_addr"`
	TLSCertFile   string     `yaml:"tls_cert"`
	TLSKeyFile    string     `yaml:"tls_key"`
	DBUrl         string     `yaml:"db_url"`
	EncryptionKey string     `yaml:"encryption_key"` // base64, 32 bytes decoded
	JWTSecret     string     `yaml:"jwt_secret"`
	SMTP          smtpConfig `yaml:"smtp"`
	DevMode       bool       `yaml:"dev_mode"`
	LogLevel      string     `yaml:"log_level"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("PASSVAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr: ":8300",
		LogLevel:   "info",
		SMTP:       smtpConfig{Port: 587},
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("PASSVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("PASSVAULT_ENCRYPTION_KEY"); v != "" {
		cfg.EncryptionKey = v
	}
	if v := os.Getenv("PASSVAULT_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if os.Getenv("PASSVAULT_DEV") == "1" {
		cfg.DevMode = true
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.EncryptionKey == "" {
		log.Fatal().Msg("encryption_key must be configured (or PASSVAULT_ENCRYPTION_KEY env var)")
	}
	key, err := crypto.KeyFromBase64(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("jwt_secret must be configured (or PASSVAULT_JWT_SECRET env var)")
	}
	tokens := auth.NewManager([]byte(cfg.JWTSecret), auth.DefaultTTL)

	ctx := context.Background()

	var store storage.Store
	var sender mail.Sender
	if cfg.DevMode {
		log.Warn().Msg("dev mode: in-memory storage, codes logged instead of mailed")
		store = storage.NewMemoryStore()
		sender = mail.LogSender{}
	} else {
		if cfg.DBUrl == "" {
			log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
		}
		pg, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		store = pg

		if err := storage.RunMigrations(cfg.DBUrl); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")

		if cfg.SMTP.Host == "" {
			log.Warn().Msg("smtp host not configured, codes will be logged instead of mailed")
			sender = mail.LogSender{}
		} else {
			sender = &mail.SMTPSender{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				From:     cfg.SMTP.From,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
			}
		}
	}
	defer store.Close()

	srv := api.NewServer(store, cipher, sender, tokens, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
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
