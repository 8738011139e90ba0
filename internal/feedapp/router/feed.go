package router

import (
	"github.com/gin-gonic/gin"

	"marketstream.com/internal/feedapp/handler"
)

func Feed(r gin.IRoutes, h *handler.Feed) {
	r.GET("/healthz", h.Healthz)
	r.GET("/stats", h.Stats)
	r.GET("/subscriptions", h.Subscriptions)
	r.POST("/subscriptions", h.Subscribe)
	r.DELETE("/subscriptions", h.Unsubscribe)
	r.GET("/last/:kind/:symbol", h.Last)
}
