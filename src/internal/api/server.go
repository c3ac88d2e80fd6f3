package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pushguard/src/internal/gateway"
)

type Server struct {
	Gateway *gateway.Gateway
	Engine  *gin.Engine

	proxy *httputil.ReverseProxy
	done  chan struct{}
}

func NewServer(gw *gateway.Gateway) *Server {
	e := gin.Default()
	s := &Server{
		Gateway: gw,
		Engine:  e,
		done:    make(chan struct{}),
	}
	s.proxy = s.newProxy()
	s.Engine.Use(s.corsMiddleware())
	s.Engine.Use(s.injectMiddleware())
	s.setupRoutesProxy()
	s.setupRoutesGuard()
	s.setupRoutesWebSocket()
	s.Engine.NoRoute(s.handleStatic)
	return s
}

// corsMiddleware covers the guard endpoints and static files. Proxied /api
// responses keep the backend's own headers untouched.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func (s *Server) injectMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("gateway", s.Gateway)
		c.Next()
	}
}

func (s *Server) setupRoutesProxy() {
	s.Engine.Any("/api/*path", s.handleProxy)
}

func (s *Server) setupRoutesGuard() {
	g := s.Engine.Group("/_guard")
	{
		g.GET("/health", s.handleHealth)
		g.GET("/tasks", s.handleTasks)
		g.GET("/journal", s.handleJournal)
		g.POST("/blocked", s.handleBlocked)
	}
}

func (s *Server) setupRoutesWebSocket() {
	s.Engine.GET("/_guard/ws", s.handleWebsocket)
}

// newProxy forwards /api to the backend through the interceptor, the way the
// Vite dev server proxies /api with changeOrigin.
func (s *Server) newProxy() *httputil.ReverseProxy {
	target, err := url.Parse(s.Gateway.Config.Backend.BaseURL)
	if err != nil || target.Host == "" {
		slog.Error("invalid backend.base_url, /api proxy disabled", "base_url", s.Gateway.Config.Backend.BaseURL, "error", err)
		return nil
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport: s.Gateway.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("backend proxy error", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"backend unavailable"}`))
		},
	}
}

func (s *Server) handleProxy(c *gin.Context) {
	if s.proxy == nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "backend not configured"})
		return
	}
	s.proxy.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dev server listening", "addr", addr, "backend", s.Gateway.Config.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed && err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")
	close(s.done)

	ctxShut, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server graceful shutdown error", "error", err)
	}
	s.Gateway.Transport.Wait()

	slog.Info("server stopped")
	return nil
}
