package main

import (
	"net/http"
	"time"

	"github.com/farxc/spm-results/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// requestLogFormatter sends chi's access log through the application logger
// so every line shares one format. Bodies and query strings are never logged.
type requestLogFormatter struct {
	appLogger *logger.Logger
}

func (f *requestLogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{
		appLogger:  f.appLogger.With("request_id", middleware.GetReqID(r.Context())),
		method:     r.Method,
		path:       r.URL.Path,
		remoteAddr: r.RemoteAddr,
	}
}

type requestLogEntry struct {
	appLogger  *logger.Logger
	method     string
	path       string
	remoteAddr string
}

func (e *requestLogEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	const component = "HTTP"
	const format = "Request completed: method=%s path=%s status=%d bytes=%d duration=%s remote=%s"
	args := []interface{}{e.method, e.path, status, bytes, elapsed.Round(time.Millisecond), e.remoteAddr}

	switch {
	case status >= http.StatusInternalServerError:
		e.appLogger.Error(component, format, args...)
	case status >= http.StatusBadRequest:
		e.appLogger.Warn(component, format, args...)
	default:
		e.appLogger.Info(component, format, args...)
	}
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.appLogger.Error("HTTP", "Request panicked: method=%s path=%s panic=%v stack=%s", e.method, e.path, v, stack)
}
