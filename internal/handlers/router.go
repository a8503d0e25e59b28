package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"quiz-session-backend/internal/config"
	"quiz-session-backend/internal/metrics"
	"quiz-session-backend/internal/middleware"
	"quiz-session-backend/internal/services"
	"quiz-session-backend/internal/ws"
)

// Deps is everything the HTTP surface needs.
type Deps struct {
	Auth     *services.AuthService
	Games    *services.GameService
	Sessions *services.SessionService
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Server   config.ServerConfig
	Runtime  config.RuntimeConfig
	// Health reports whether the storage backend is reachable.
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.Server.CORSOrigins)))

	authHandler := NewAuthHandler(d.Auth)
	gameHandler := NewGameHandler(d.Games)
	sessionHandler := NewSessionHandler(d.Sessions)
	playHandler := NewPlayHandler(d.Sessions)
	wsHandler := NewWSHandler(d.Hub, d.Sessions, d.Runtime.WSMessagesPerSecond, d.Runtime.WSBurst, d.Logger)

	r.GET("/healthz", health(d.Health))
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/ws/sessions/:id", wsHandler.HandleWebSocket)

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", middleware.JWTAuth(d.Auth), authHandler.Me)
		}

		games := api.Group("/games")
		games.Use(middleware.JWTAuth(d.Auth))
		{
			games.GET("", gameHandler.ListGames)
			games.POST("", gameHandler.CreateGame)
			games.GET("/:id", gameHandler.GetGame)
			games.PUT("/:id", gameHandler.UpdateGame)
			games.DELETE("/:id", gameHandler.DeleteGame)
			games.POST("/:id/questions", gameHandler.AddQuestion)
		}

		questions := api.Group("/questions")
		questions.Use(middleware.JWTAuth(d.Auth))
		{
			questions.PUT("/:id/time", gameHandler.UpdateQuestionTime)
			questions.POST("/:id/move", gameHandler.MoveQuestion)
			questions.DELETE("/:id", gameHandler.DeleteQuestion)
		}

		sessions := api.Group("/sessions")
		sessions.Use(middleware.JWTAuth(d.Auth))
		{
			sessions.GET("", sessionHandler.ListSessions)
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.POST("/:id/start", sessionHandler.Start)
			sessions.POST("/:id/advance", sessionHandler.Advance)
			sessions.POST("/:id/next", sessionHandler.Next)
			sessions.POST("/:id/display", sessionHandler.Display)
			sessions.POST("/:id/leaderboard", sessionHandler.RevealLeaderboard)
			sessions.POST("/:id/end", sessionHandler.End)
			sessions.GET("/:id/leaderboard", sessionHandler.GetLeaderboard)
			sessions.GET("/:id/results", sessionHandler.GetResults)
		}

		play := api.Group("/play")
		{
			play.GET("/codes/:code", playHandler.GetByCode)
			play.POST("/codes/:code/join", playHandler.Join)
			play.POST("/sessions/:id/answers", playHandler.SubmitAnswer)
			play.GET("/sessions/:id/state", playHandler.GetState)
		}
	}

	return r
}

// health godoc
// @Summary      Liveness and storage check
// @Tags         ops
// @Produce      json
// @Success      200 {object} MessageResponse
// @Failure      503 {object} ErrorResponse
// @Router       /healthz [get]
func health(check func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "database unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, MessageResponse{Message: "ok"})
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}
