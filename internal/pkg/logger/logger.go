package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
	redact        bool
	hashSalt      string
}

type Options struct {
	Mode     string
	Level    string
	Redact   bool
	HashSalt string
}

func New(opts Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(opts.Mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level failed: %w", err)
		}
		cfg.Level = level
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}
	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
		redact:        opts.Redact,
		hashSalt:      opts.HashSalt,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, l.sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, l.sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, l.sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, l.sanitizeKVs(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, l.sanitizeKVs(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(l.sanitizeKVs(keysAndValues)...),
		redact:        l.redact,
		hashSalt:      l.hashSalt,
	}
}

func (l *Logger) sanitizeKVs(kv []interface{}) []interface{} {
	if len(kv) == 0 || !l.redact {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := toString(kv[i])
		out = append(out, key, l.sanitizeValue(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (l *Logger) sanitizeValue(key string, val interface{}) interface{} {
	switch {
	case isRedactKey(key):
		return "[REDACTED]"
	case isHashKey(key):
		return l.hashValue(val)
	}
	if s, ok := val.(string); ok && looksLikeJWT(s) {
		return "[REDACTED]"
	}
	return val
}

func isRedactKey(key string) bool {
	switch {
	case strings.Contains(key, "token"),
		strings.Contains(key, "authorization"),
		strings.Contains(key, "password"),
		strings.Contains(key, "secret"),
		strings.Contains(key, "api_key"),
		strings.Contains(key, "email"):
		return true
	default:
		return false
	}
}

func isHashKey(key string) bool {
	return strings.Contains(key, "user_id")
}

func (l *Logger) hashValue(val interface{}) string {
	raw := toString(val)
	if raw == "" {
		return ""
	}
	h := sha256.New()
	if l.hashSalt != "" {
		_, _ = h.Write([]byte(l.hashSalt))
	}
	_, _ = h.Write([]byte(raw))
	sum := hex.EncodeToString(h.Sum(nil))
	return "hash:" + sum[:12]
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
