// Package config loads coordinator configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds coordinator process configuration.
type Config struct {
	HTTPListenAddr    string        // address the HTTP API binds to
	DatabasePath      string        // sqlite database file
	RedisAddr         string        // broker address, empty selects the in-memory broker
	RedisPassword     string        //
	RedisDB           int           //
	DispatchInterval  time.Duration // pending backlog scan cadence
	MonitorInterval   time.Duration // liveness sweep cadence
	HeartbeatInterval time.Duration // expected worker heartbeat cadence
	LivenessThreshold time.Duration // silence window before a worker is declared dead
	DispatchBatch     int           // pending tasks per dispatch pass

	DBMaxOpenConns    int           // connection pool size
	DBMaxIdleConns    int           // idle connections kept warm
	DBConnMaxLifetime time.Duration // connection recycle age
	DBConnMaxIdleTime time.Duration // idle connection expiry
}

// Defaults returns the configuration used when no environment is set. Pool
// defaults mirror storage.DefaultPoolConfig.
func Defaults() Config {
	return Config{
		HTTPListenAddr:    ":8080",
		DatabasePath:      "taskforge.db",
		DispatchInterval:  500 * time.Millisecond,
		MonitorInterval:   5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		DispatchBatch:     100,
		DBMaxOpenConns:    25,
		DBMaxIdleConns:    10,
		DBConnMaxLifetime: 5 * time.Minute,
		DBConnMaxIdleTime: time.Minute,
	}
}

// Load reads configuration from TASKFORGE_* environment variables, falling
// back to defaults for anything unset.
func Load() (Config, error) {
	cfg := Defaults()

	if v := os.Getenv("TASKFORGE_HTTP_ADDR"); v != "" {
		cfg.HTTPListenAddr = v
	}
	if v := os.Getenv("TASKFORGE_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TASKFORGE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("TASKFORGE_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}

	var err error
	if cfg.RedisDB, err = intVar("TASKFORGE_REDIS_DB", cfg.RedisDB); err != nil {
		return cfg, err
	}
	if cfg.DispatchBatch, err = intVar("TASKFORGE_DISPATCH_BATCH", cfg.DispatchBatch); err != nil {
		return cfg, err
	}
	if cfg.DispatchInterval, err = durationVar("TASKFORGE_DISPATCH_INTERVAL", cfg.DispatchInterval); err != nil {
		return cfg, err
	}
	if cfg.MonitorInterval, err = durationVar("TASKFORGE_MONITOR_INTERVAL", cfg.MonitorInterval); err != nil {
		return cfg, err
	}
	if cfg.HeartbeatInterval, err = durationVar("TASKFORGE_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return cfg, err
	}
	if cfg.LivenessThreshold, err = durationVar("TASKFORGE_LIVENESS_THRESHOLD", cfg.LivenessThreshold); err != nil {
		return cfg, err
	}
	if cfg.DBMaxOpenConns, err = intVar("TASKFORGE_DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns); err != nil {
		return cfg, err
	}
	if cfg.DBMaxIdleConns, err = intVar("TASKFORGE_DB_MAX_IDLE_CONNS", cfg.DBMaxIdleConns); err != nil {
		return cfg, err
	}
	if cfg.DBConnMaxLifetime, err = durationVar("TASKFORGE_DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetime); err != nil {
		return cfg, err
	}
	if cfg.DBConnMaxIdleTime, err = durationVar("TASKFORGE_DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTime); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func intVar(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func durationVar(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}
