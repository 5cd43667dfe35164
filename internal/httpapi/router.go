package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/metrics"
	"github.com/park285/cooldown-chess/internal/msgcat"
	"github.com/park285/cooldown-chess/internal/room"
)

// Deps wires the router.
type Deps struct {
	Rooms        *room.Manager
	Chat         *chat.Service
	Messages     *msgcat.Catalog
	Events       Subscriber
	PollInterval time.Duration
	Dev          bool

	// RateLimit <= 0 disables rate limiting.
	RateLimit rate.Limit
	Burst     int
}

// NewRouter builds the gin engine. The returned stop func releases background
// resources of the middleware.
func NewRouter(d Deps) (*gin.Engine, func()) {
	h := &Handler{
		rooms:        d.Rooms,
		chat:         d.Chat,
		msgs:         d.Messages,
		sub:          d.Events,
		pollInterval: d.PollInterval,
		dev:          d.Dev,
	}
	if h.msgs == nil {
		h.msgs = msgcat.MustDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(CORS(d.Dev))
	stop := func() {}
	if d.RateLimit > 0 {
		rl := NewRateLimiter(d.RateLimit, d.Burst, 2*time.Minute)
		r.Use(rl.Middleware(h.rateLimited))
		stop = rl.Stop
	}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "route_not_found", "kind": "not_found"})
	})

	h.mount(r.Group(""))
	h.mount(r.Group("/api"))
	return r, stop
}

func (h *Handler) mount(g *gin.RouterGroup) {
	g.GET("/rooms", h.listRooms)
	g.POST("/rooms", h.createRoom)
	g.GET("/rooms/:id", h.getRoom)
	g.PUT("/rooms/:id", h.patchRoom)
	g.DELETE("/rooms/:id", h.deleteRoom)
	g.POST("/rooms/:id/join", h.joinRoom)
	g.POST("/rooms/:id/moves", h.submitMove)
	g.POST("/rooms/:id/end", h.endGame)
	g.POST("/rooms/:id/rematch", h.offerRematch)
	g.POST("/rooms/:id/rematch/respond", h.respondRematch)
	g.POST("/rooms/:id/presence", h.presence)
	g.GET("/rooms/:id/messages", h.listMessages)
	g.POST("/rooms/:id/messages", h.postMessage)
	if h.sub != nil {
		g.GET("/rooms/:id/watch", h.watch)
	}
}
