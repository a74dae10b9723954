// Package httpapi exposes the forwarding implementation's wire surface
// from spec §6 as a gin router, grounded on the teacher's
// cmd/zmux-server/main.go (middleware ordering: Recovery, dev-only CORS,
// request id, ZapLogger, concurrency cap) and its CRUD-handler style.
package httpapi

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kvreplica/protokv/internal/dispatch"
	"github.com/kvreplica/protokv/internal/httpapi/middleware"
)

// Options configures NewRouter.
type Options struct {
	MaxConcurrentRequests int // 0 disables the cap
	DevCORS               bool
}

// NewRouter builds the gin.Engine serving spec §6's
// /_api/prototype-state/{id}/... surface over methods, the StateMethods
// implementation (Local or Forwarding) this server uses to answer requests.
func NewRouter(methods dispatch.StateMethods, log *zap.Logger, opts Options) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())

	if opts.DevCORS || os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.RequestID())
	r.Use(middleware.ZapLogger(log))
	if opts.MaxConcurrentRequests > 0 {
		r.Use(middleware.CapConcurrentRequests(opts.MaxConcurrentRequests))
	}

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	h := &handlers{methods: methods, log: log.Named("httpapi")}

	g := r.Group("/_api/prototype-state/:id")
	g.POST("/insert", h.insert)
	g.DELETE("/entry/:key", h.removeOne)
	g.DELETE("/multi-remove", h.removeMulti)
	g.PUT("/cmp-ex", h.compareExchange)
	g.POST("/multi-get", h.getMulti)
	g.GET("/snapshot", h.snapshot)
	g.GET("/wait-for-applied/:idx", h.waitForApplied)
	g.GET("", h.status)

	return r
}
