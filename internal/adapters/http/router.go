package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/beacon-im/beacon/internal/adapters/signal"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/core"
)

// BearerAuthMiddleware resolves the presented credential through the
// external auth collaborator and stores the verified identity in the
// request context. The core never inspects the token itself.
func BearerAuthMiddleware(verifier core.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// Browser websocket clients cannot set headers.
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication error", "code": "AUTH_FAILED"})
			return
		}
		uid, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("handshake rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication error", "code": "AUTH_FAILED"})
			return
		}
		c.Set("user_id", string(uid))
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, verifier core.TokenVerifier, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.Use(BearerAuthMiddleware(verifier))

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	return r
}
