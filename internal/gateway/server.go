// Package gateway serves OpenAI compatible endpoints in front of the Bytez
// and AI Horde providers.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dmorgan81/imagegateway/internal/bytez"
	"github.com/dmorgan81/imagegateway/internal/horde"
	"github.com/dmorgan81/imagegateway/internal/log"
	"github.com/dmorgan81/imagegateway/internal/upstream"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
	"github.com/sashabaranov/go-openai"
)

type Horde interface {
	Generate(ctx context.Context, key string, req horde.Request) (openai.ImageResponse, error)
	Models(ctx context.Context) ([]upstream.Model, error)
	DefaultModels() []upstream.Model
}

type Bytez interface {
	Speech(ctx context.Context, key, model, text string) (bytez.Audio, error)
	Image(ctx context.Context, key, model, prompt string) (openai.ImageResponse, error)
	Models(ctx context.Context, task string) ([]upstream.Model, error)
}

type Server struct {
	horde   Horde
	bytez   Bytez
	origins []string
	addr    string
	logger  *slog.Logger

	srv *http.Server
}

func NewServer(i *do.Injector) (*Server, error) {
	return New(
		do.MustInvoke[*horde.Client](i),
		do.MustInvoke[*bytez.Client](i),
		do.MustInvokeNamed[string](i, "listen_addr"),
		do.MustInvokeNamed[[]string](i, "allow_origins"),
		do.MustInvoke[*slog.Logger](i),
	), nil
}

func New(h Horde, b Bytez, addr string, origins []string, logger *slog.Logger) *Server {
	return &Server{horde: h, bytez: b, addr: addr, origins: origins, logger: logger}
}

func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext(), s.cors())

	bytezRoutes := r.Group("/bytez/v1")
	bytezRoutes.GET("/models", s.bytezSpeechModels)
	bytezRoutes.POST("/audio/speech", s.bytezSpeech)
	bytezRoutes.GET("/images/models", s.bytezImageModels)
	bytezRoutes.POST("/images/generations", s.bytezImage)

	hordeRoutes := r.Group("/ai-horde/v1")
	hordeRoutes.POST("/images/generations", s.hordeImage)
	hordeRoutes.GET("/models", s.hordeModels)

	return r
}

func (s *Server) cors() gin.HandlerFunc {
	config := cors.DefaultConfig()
	if len(s.origins) == 0 || lo.Contains(s.origins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = s.origins
	}
	config.AddAllowHeaders("Authorization", "apikey")
	return cors.New(config)
}

// requestContext tags every request with an id and puts a logger carrying it
// into the request context.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)

		logger := s.logger.With("request_id", id)
		c.Request = c.Request.WithContext(log.NewContext(c.Request.Context(), logger))

		start := time.Now()
		c.Next()
		logger.Info("handled request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// Serve listens on the configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", "addr", ln.Addr().String())

	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := s.Shutdown(); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Shutdown stops a running server. It is called by the injector on exit.
func (s *Server) Shutdown() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
