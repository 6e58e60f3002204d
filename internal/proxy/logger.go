package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/omarluq/cc-gateway/internal/config"
)

type ctxKey string

// RequestIDKey is the context key for request IDs.
const RequestIDKey ctxKey = "request_id"

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

var levelBadges = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
	"fatal": "\033[35mFTL\033[0m",
	"panic": "\033[35mPNC\033[0m",
}

// NewLogger builds the root logger from the logging section. Output goes to
// stdout, stderr or an append-only file; pretty console output is used when
// asked for or when the destination is a terminal.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	out, file, err := openOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("open log output: %w", err)
	}

	if wantPretty(cfg, file) {
		out = consoleWriter(out)
	}

	return zerolog.New(out).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger(), nil
}

func openOutput(dest string) (io.Writer, *os.File, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	}
	f, err := os.OpenFile(filepath.Clean(dest), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f, nil
}

func wantPretty(cfg config.LoggingConfig, file *os.File) bool {
	if cfg.Pretty || cfg.Format == "pretty" {
		return true
	}
	if cfg.Format == "json" {
		return false
	}
	return file != nil && isatty.IsTerminal(file.Fd())
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i any) string {
			s, _ := i.(string)
			if badge, ok := levelBadges[s]; ok {
				return badge
			}
			return s
		},
		FormatMessage: func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprintf("-> %s", i)
		},
		FormatFieldName: func(i any) string {
			return fmt.Sprintf("\033[2m%s=\033[0m", i)
		},
		FormatFieldValue: func(i any) string {
			return fmt.Sprintf("%s", i)
		},
	}
}

// AddRequestID stores requestID in ctx, generating a UUID when it is empty,
// and attaches it to the context logger.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx = context.WithValue(ctx, RequestIDKey, requestID)
	logger := zerolog.Ctx(ctx).With().Str("request_id", requestID).Logger()
	return logger.WithContext(ctx)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
