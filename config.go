package websocket

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// NewDialerFromEnv returns a Dialer configured from WS_* environment variables.
// Unset or malformed values fall back to the defaults.
func NewDialerFromEnv() *Dialer {
	return &Dialer{
		FragmentThreshold: getInt("WS_FRAGMENT_THRESHOLD", DefaultFragmentThreshold),
		CloseTimeout:      getDuration("WS_CLOSE_TIMEOUT", DefaultCloseTimeout),
		HandshakeTimeout:  getDuration("WS_HANDSHAKE_TIMEOUT", DefaultHandshakeTimeout),
		WriteTimeout:      getDuration("WS_WRITE_TIMEOUT", DefaultWriteTimeout),
		ReadBufferSize:    getInt("WS_READ_BUFFER_SIZE", DefaultReadBufferSize),
		MaxMessageSize:    int64(getInt("WS_MAX_MESSAGE_SIZE", DefaultMaxMessageSize)),
		DownloadDir:       getEnv("WS_DOWNLOAD_DIR", os.TempDir()),
	}
}

// WS_LOG=1 enables debug logging to stdout, or to WS_LOG_FILE when set.
func loggerFromEnv() (*zap.Logger, error) {
	if os.Getenv("WS_LOG") != "1" {
		return zap.NewNop(), nil
	}

	cfg := zap.NewDevelopmentConfig()
	if path := os.Getenv("WS_LOG_FILE"); path != "" {
		cfg.OutputPaths = []string{path}
	} else {
		cfg.OutputPaths = []string{"stdout"}
	}

	return cfg.Build()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
