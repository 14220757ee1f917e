package httpserver

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with middleware and record routes.
func NewRouter(s *Server, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(Recovery(log), Logging(log))
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", headerUserIDs, headerGroupIDs},
	}))

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/:collection", s.create)
		api.GET("/:collection", s.find)
		api.POST("/:collection/query", s.find)
		api.GET("/:collection/count", s.count)
		api.GET("/:collection/:id", s.findByID)
		api.PATCH("/:collection/:id", s.update)
		api.PUT("/:collection/:id", s.replace)
		api.DELETE("/:collection/:id", s.delete)
	}

	return router
}
