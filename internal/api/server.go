package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/handlers"
	"github.com/klauspost/compress/gzhttp"
)

// Server is a context-driven plain-HTTP runnable: Run starts it and blocks
// until the context is canceled, then shuts down gracefully. It does not
// serve TLS.
type Server struct {
	Addr            string
	Handler         http.Handler
	Log             logr.Logger
	ShutdownTimeout time.Duration

	httpServer *http.Server
}

// Run starts the server and blocks until ctx is canceled, then shuts it
// down gracefully within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	log := s.Log.WithValues("addr", s.Addr)

	s.httpServer = &http.Server{
		Addr:         s.Addr,
		Handler:      wrapMiddleware(log, s.Handler),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info("shutting down download API server")

		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error(err, "error shutting down download API server")
		}
		close(shutdownDone)
	}()

	log.Info("starting download API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-shutdownDone
	return nil
}

// wrapMiddleware applies gzip compression and Apache-combined-log-style
// access logging routed through logr.
func wrapMiddleware(log logr.Logger, next http.Handler) http.Handler {
	return gzhttp.GzipHandler(logrLoggingHandler(log, next))
}

func logrLoggingHandler(log logr.Logger, next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(nil, next, func(_ io.Writer, params handlers.LogFormatterParams) {
		host, _, err := net.SplitHostPort(params.Request.RemoteAddr)
		if err != nil {
			host = params.Request.RemoteAddr
		}
		log.Info("handled request",
			"host", host,
			"method", params.Request.Method,
			"uri", params.URL.RequestURI(),
			"status", params.StatusCode,
			"size", params.Size,
		)
	})
}
