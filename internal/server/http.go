package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	// feedbackMargin covers the transcription call and the persistence that
	// follow an assistant run inside one evaluation request.
	feedbackMargin = time.Minute
)

// Options configures the listener of the account service.
type Options struct {
	Addr string
	// WriteTimeout must outlast the longest assistant run.
	WriteTimeout time.Duration
	// ReadTimeout bounds the upload of a scanned essay.
	ReadTimeout time.Duration
}

// OptionsFromConfig derives listener settings from the service config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Addr:         ":" + cfg.HTTPPort,
		WriteTimeout: WriteTimeoutFor(cfg.Assistant.Timeout),
		ReadTimeout:  time.Minute,
	}
}

// WriteTimeoutFor returns the response deadline for an assistant run bound.
func WriteTimeoutFor(assistantTimeout time.Duration) time.Duration {
	if assistantTimeout <= 0 {
		return feedbackMargin
	}
	return assistantTimeout + feedbackMargin
}

// HTTPServer serves the account routes until its context ends.
type HTTPServer struct {
	Engine  *gin.Engine
	Options Options
	Logger  *zap.Logger
}

func NewHTTPServer(router *gin.Engine, cfg config.Config, logger *zap.Logger) *HTTPServer {
	router.HandleMethodNotAllowed = true
	router.ForwardedByClientIP = true
	return &HTTPServer{Engine: router, Options: OptionsFromConfig(cfg), Logger: logger}
}

// Run listens on the configured address.
func (s *HTTPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Options.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and shuts down gracefully when ctx is done.
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.Options.ReadTimeout,
		WriteTimeout:      s.Options.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if s.Logger != nil {
			s.Logger.Info("draining http connections", zap.String("addr", ln.Addr().String()))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
