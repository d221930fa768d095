package router

import (
	"github.com/wb-go/wbf/ginext"
	"go.uber.org/zap"
	"net/http"
	"openline/internal/router/handlers"
	"openline/internal/router/middleware"
)

type Router struct {
	rout    *ginext.Engine
	handler *handlers.FeedHandler
	log     *zap.Logger
}

func NewRouter(mode string, handler *handlers.FeedHandler, log *zap.Logger) *Router {
	router := Router{
		rout:    ginext.New(mode),
		handler: handler,
		log:     log.Named("router"),
	}
	router.setupRouter()
	return &router
}

func (r *Router) setupRouter() {
	r.rout.Use(ginext.Recovery(), middleware.LoggingMiddleware(r.log))

	r.rout.GET("/opinions/:id/thread", r.handler.GetThread)
	r.rout.GET("/opinions/:id/comments/:comment_id/replies", r.handler.GetReplies)
	r.rout.POST("/opinions/:id/comments", r.handler.CreateComment)
	r.rout.POST("/opinions/:id/react", r.handler.ReactToOpinion)
	r.rout.POST("/opinions/:id/reply", r.handler.ReplyToOpinion)

	r.rout.POST("/comments/:id/react", r.handler.ReactToComment)
	r.rout.PUT("/comments/:id", r.handler.UpdateComment)
	r.rout.DELETE("/comments/:id", r.handler.DeleteComment)

	r.rout.GET("/reactions/:kind/:id", r.handler.GetReaction)
	r.rout.GET("/users/:id/name", r.handler.GetUserName)

	r.rout.GET("/healthz", func(c *ginext.Context) {
		c.JSON(http.StatusOK, ginext.H{"status": "ok"})
	})
}

func (r *Router) GetEngine() *ginext.Engine {
	return r.rout
}
