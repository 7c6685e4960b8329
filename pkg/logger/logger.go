package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config настройки логгера
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // человекочитаемый вывод в консоль
}

// New создает структурированный логгер
func New(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Logger()
}

// ParseLevel переводит строку в уровень, по умолчанию info
func ParseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Nop логгер для тестов
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// SetGlobalLogger подменяет пакетный логгер zerolog/log
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
