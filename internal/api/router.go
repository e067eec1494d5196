package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/auth"
	"github.com/your-org/attendance/internal/mjpeg"
)

type RouterConfig struct {
	APIKey   string
	Engine   *attendance.Engine
	Registry handlers.Registry
	Enroller handlers.Enroller
	Frames   handlers.FrameSource
	Status   func() mjpeg.Status
	Hub      *ws.Hub
	Checks   map[string]handlers.Check
}

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-API-Key"},
	}))
	return r
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := newEngine()

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Attendance ledger
	attH := handlers.NewAttendanceHandler(cfg.Engine)
	v1.GET("/attendance", attH.List)
	v1.POST("/attendance", attH.Add)
	v1.PATCH("/attendance/:index", attH.Patch)
	v1.DELETE("/attendance/:index", attH.Delete)
	v1.DELETE("/attendance", attH.Clear)
	v1.GET("/detections/latest", attH.LatestDetections)

	// Settings
	setH := handlers.NewSettingsHandler(cfg.Engine)
	v1.GET("/settings", setH.Get)
	v1.PUT("/settings", setH.Put)

	// Identities
	idH := handlers.NewIdentityHandler(cfg.Registry, cfg.Enroller)
	v1.POST("/enroll", idH.Enroll)
	v1.GET("/identities", idH.List)
	v1.POST("/identities/refresh", idH.Refresh)
	v1.DELETE("/identities/:label", idH.Remove)

	// Camera stream
	streamH := handlers.NewStreamHandler(cfg.Frames, cfg.Status)
	v1.GET("/stream", streamH.Proxy)
	v1.GET("/stream/snapshot", streamH.Snapshot)
	v1.GET("/stream/status", streamH.Status)

	return r
}

type ArchiverConfig struct {
	APIKey  string
	Archive handlers.EventArchive
	Checks  map[string]handlers.Check
}

// NewArchiverRouter serves the archiver's health, metrics and read API.
func NewArchiverRouter(cfg ArchiverConfig) *gin.Engine {
	r := newEngine()

	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))
	v1.GET("/archive", handlers.NewArchiveHandler(cfg.Archive).List)

	return r
}
