package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ScenarioPath    string
	LogLevel        string
	LogFormat       string
	NATSURL         string
	MetricsPort     int
	HealthPort      int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ScenarioPath, "scenario",
		getEnv("NSEQE_SCENARIO", "scenario.json"),
		"Path to scenario file (env: NSEQE_SCENARIO)")

	flag.StringVar(&cfg.ScenarioPath, "s",
		getEnv("NSEQE_SCENARIO", "scenario.json"),
		"Path to scenario file (env: NSEQE_SCENARIO)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("NSEQE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: NSEQE_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("NSEQE_LOG_FORMAT", "json"),
		"Log format: json, text (env: NSEQE_LOG_FORMAT)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("NSEQE_NATS_URL", ""),
		"NATS URL for diagnostics forwarding, empty to disable (env: NSEQE_NATS_URL)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("NSEQE_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: NSEQE_METRICS_PORT)")

	flag.IntVar(&cfg.HealthPort, "health-port",
		getEnvInt("NSEQE_HEALTH_PORT", 0),
		"Health endpoint port, 0 to disable (env: NSEQE_HEALTH_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("NSEQE_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: NSEQE_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate scenario and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ScenarioPath); err != nil {
		return fmt.Errorf("scenario file not found: %s", cfg.ScenarioPath)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", cfg.HealthPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Network Sequence Execution Engine

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run a scenario
  %s --scenario=/path/to/scenario.json

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Forward diagnostics to NATS, expose metrics and health
  %s --nats-url=nats://localhost:4222 --metrics-port=9090 --health-port=8080

  # Validate a scenario only
  %s --scenario=scenario.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
