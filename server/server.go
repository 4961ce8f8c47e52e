// Package server exposes the segmentation pipeline over HTTP and caches results in redis.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Hejaii/animeface/config"
)

const shutdownTimeout = 10 * time.Second

// NewRouter wires the routes of h.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(logger))

	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.POST("/segment", h.Segment)
		api.GET("/segment/:md5", h.GetByMD5)
	}
	return r
}

// Run serves h on cfg.Port until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, cfg config.ServerConfig, h *Handler, logger *zap.Logger) error {
	gin.SetMode(cfg.Mode)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      NewRouter(h, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	logger.Info("server stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
}
