package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config describes all runtime settings for the server.
//
// Best practice for Go services:
//   - load config once in main
//   - validate
//   - pass further via DI (no global variables)
type Config struct {
	Env string // dev|stage|prod

	Log struct {
		Format string // text|json
	}

	HTTP struct {
		Addr              string
		ReadHeaderTimeout time.Duration
		ReadTimeout       time.Duration
		WriteTimeout      time.Duration
		IdleTimeout       time.Duration
		ShutdownTimeout   time.Duration
	}

	Mongo struct {
		URI      string
		Database string
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}

	LiveKit struct {
		URL       string
		APIKey    string
		APISecret string
		TokenTTL  time.Duration
	}

	Game struct {
		SpeakTime int // seconds per speech
		VotesTime int // seconds per voting round
	}
}

func LoadFromEnv() (Config, error) {
	var c Config

	c.Env = envString("APP_ENV", "dev")
	c.Log.Format = envString("LOG_FORMAT", "text")

	port := envString("PORT", "8080")
	c.HTTP.Addr = envString("HTTP_ADDR", ":"+port)
	c.HTTP.ReadHeaderTimeout = envDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	c.HTTP.ReadTimeout = envDuration("HTTP_READ_TIMEOUT", 0)
	c.HTTP.WriteTimeout = envDuration("HTTP_WRITE_TIMEOUT", 0)
	c.HTTP.IdleTimeout = envDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)
	c.HTTP.ShutdownTimeout = envDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	c.Mongo.URI = envString("MONGO_URI", "mongodb://localhost:27017")
	c.Mongo.Database = envString("MONGO_DB", "mafia")

	c.Auth.Secret = envString("JWT_SECRET", "dev-secret-change-me")
	c.Auth.TokenTTL = envDuration("JWT_TTL", 24*time.Hour)

	c.LiveKit.URL = envString("LIVEKIT_URL", "http://localhost:7880")
	c.LiveKit.APIKey = envString("LIVEKIT_API_KEY", "devkey")
	c.LiveKit.APISecret = envString("LIVEKIT_API_SECRET", "secret")
	c.LiveKit.TokenTTL = envDuration("LIVEKIT_TOKEN_TTL", 6*time.Hour)

	c.Game.SpeakTime = envInt("GAME_SPEAK_TIME", 60)
	c.Game.VotesTime = envInt("GAME_VOTES_TIME", 30)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("HTTP addr is empty")
	}
	if c.Mongo.URI == "" {
		return errors.New("MONGO_URI is empty")
	}
	if c.Mongo.Database == "" {
		return errors.New("MONGO_DB is empty")
	}
	if c.Auth.Secret == "" {
		return errors.New("JWT_SECRET is empty")
	}
	if c.Env != "dev" && c.Auth.Secret == "dev-secret-change-me" {
		return fmt.Errorf("refuse to run with default JWT_SECRET in %s", c.Env)
	}
	if c.Env != "dev" && c.LiveKit.APIKey == "devkey" {
		return fmt.Errorf("refuse to run with default LIVEKIT_API_KEY in %s", c.Env)
	}
	if c.LiveKit.URL == "" {
		return errors.New("LIVEKIT_URL is empty")
	}
	if c.Game.SpeakTime <= 0 || c.Game.VotesTime <= 0 {
		return errors.New("game timers must be positive")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT=%q (want text|json)", c.Log.Format)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
