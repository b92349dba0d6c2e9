// Package logger builds the service's logrus logger and the HTTP access log
// middleware.
package logger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/config"
)

const RequestIDKey = "request_id"

// New configures a logger from cfg. The returned func closes the log file,
// if one was opened.
func New(cfg config.LogConfig) (*logrus.Logger, func(), error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	cleanup := func() {}
	switch cfg.Output {
	case "stderr":
		log.SetOutput(os.Stderr)
	case "file":
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		log.SetOutput(f)
		cleanup = func() { _ = f.Close() }
	default:
		log.SetOutput(os.Stdout)
	}

	return log, cleanup, nil
}

func openLogFile(path string) (io.WriteCloser, error) {
	if path == "" {
		return nil, fmt.Errorf("log output is file but no file path is set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
}

// FromContext tags log with the request id chi stored in ctx, if any.
func FromContext(ctx context.Context, log logrus.FieldLogger) *logrus.Entry {
	entry := log.WithFields(logrus.Fields{})
	if id := middleware.GetReqID(ctx); id != "" {
		entry = entry.WithField(RequestIDKey, id)
	}
	return entry
}

// Middleware writes one access log line per request. It expects chi's
// RequestID middleware to run first.
func Middleware(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				entry := FromContext(r.Context(), log).WithFields(logrus.Fields{
					"method":   r.Method,
					"path":     r.URL.Path,
					"status":   ww.Status(),
					"bytes":    ww.BytesWritten(),
					"duration": time.Since(start).String(),
					"remote":   r.RemoteAddr,
				})
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					entry.Error("request handled")
				case ww.Status() >= http.StatusBadRequest:
					entry.Warn("request handled")
				default:
					entry.Info("request handled")
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
