package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Host           string `env:"HOST,required=true"`
	Port           int    `env:"PORT,required=true"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,required=true"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`

	ChatRateCapacity      int           `env:"CHAT_RATE_CAPACITY,required=true"`
	ChatRateRefillPerSec  float64       `env:"CHAT_RATE_REFILL_PER_SEC,required=true"`
	BlockRateCapacity     int           `env:"BLOCK_RATE_CAPACITY,required=true"`
	BlockRateRefillPerSec float64       `env:"BLOCK_RATE_REFILL_PER_SEC,required=true"`
	OutboundQueueDepth    int           `env:"OUTBOUND_QUEUE_DEPTH,required=true"`
	MaxBodyLength         int           `env:"MAX_BODY_LENGTH,required=true"`
	HistoryPageLimit      int           `env:"HISTORY_PAGE_LIMIT,required=true"`
	MalformedLimit        int           `env:"MALFORMED_LIMIT,required=true"`
	CharReplacement       string        `env:"CHARACTER_REPLACEMENT,required=true"`
	GCInterval            time.Duration `env:"GC_INTERVAL,required=true"`
	MetricInterval        time.Duration `env:"METRIC_INTERVAL,required=true"`
	RestartInterval       time.Duration `env:"RESTART_INTERVAL,required=true"`
}

// CharacterRune enforces that the configured replacement is a single rune.
func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// ParseLevel maps the LOG_LEVEL value to a slog level, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
