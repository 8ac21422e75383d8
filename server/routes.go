// routes.go - HTTP-Router und Server-Struktur
// Enthaelt: Server, newServer(), GenerateRoutes()

package server

import (
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/tensorio/bridge/envconfig"
	"github.com/tensorio/bridge/ml"
	"github.com/tensorio/bridge/version"
)

func init() {
	mode := gin.ReleaseMode
	if envconfig.LogLevel() < 0 {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)
}

// Server haelt die geladenen Bundles und begrenzt native Aufrufe
type Server struct {
	addr   net.Addr
	engine ml.Engine

	// sem begrenzt gleichzeitige native Aufrufe ueber alle Bundles
	sem     *semaphore.Weighted
	bundles *registry
}

// newServer erstellt einen Server, der alle Bundles ueber engine laedt
func newServer(addr net.Addr, engine ml.Engine) *Server {
	return &Server{
		addr:    addr,
		engine:  engine,
		sem:     semaphore.NewWeighted(int64(max(1, envconfig.NumParallel()))),
		bundles: newRegistry(int(envconfig.MaxBundles())),
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		requestLogger(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "tensorio is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "tensorio is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Bundle lifecycle
	r.POST("/api/load", s.LoadHandler)
	r.POST("/api/unload", s.UnloadHandler)
	r.GET("/api/ps", s.PsHandler)
	r.POST("/api/show", s.ShowHandler)

	// Execution
	r.POST("/api/run", s.RunHandler)
	r.POST("/api/train", s.TrainHandler)
	r.POST("/api/export", s.ExportHandler)

	return r
}
