// README: HTTP router registration.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"handoff/internal/config"
	"handoff/internal/http/handlers"
	"handoff/internal/http/middleware"
	"handoff/internal/infra"
)

type RouterDeps struct {
	Trips           handlers.TripService
	Requests        handlers.RequestService
	Verifier        infra.TokenVerifier
	Redis           *redis.Client
	VerifyRateLimit config.RateLimitRule
	Location        *time.Location
	Log             *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(deps.Log), middleware.Recovery(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	tripHandler := handlers.NewTripHandler(deps.Trips, deps.Location)
	api.POST("/trips", tripHandler.Create)
	api.GET("/trips", tripHandler.ListOpen)
	api.GET("/trips/mine", tripHandler.ListMine)
	api.GET("/trips/:id", tripHandler.Get)
	api.PATCH("/trips/:id", tripHandler.Update)
	api.DELETE("/trips/:id", tripHandler.Delete)
	api.POST("/trips/:id/status", tripHandler.UpdateStatus)

	requestHandler := handlers.NewRequestHandler(deps.Requests)
	api.POST("/trips/:id/requests", requestHandler.Create)
	api.GET("/trips/:id/requests", requestHandler.ListByTrip)
	api.GET("/requests/mine", requestHandler.ListMine)
	api.GET("/requests/:id", requestHandler.Get)
	api.GET("/requests/:id/events", requestHandler.History)
	api.POST("/requests/:id/accept", requestHandler.Accept)
	api.POST("/requests/:id/reject", requestHandler.Reject)
	api.POST("/requests/:id/cancel", requestHandler.Cancel)
	api.PUT("/requests/:id/receiver", requestHandler.UpdateReceiver)
	api.PUT("/requests/:id/details", requestHandler.UpdateDetails)
	api.POST("/requests/:id/pickup/otp", requestHandler.RegeneratePickupOTP)
	api.POST("/requests/:id/delivery/otp", requestHandler.RegenerateDeliveryOTP)

	verifyLimit := middleware.RateLimit(deps.Redis, middleware.RateLimitRule{
		Prefix:        "handoff:otp_verify",
		WindowSeconds: deps.VerifyRateLimit.WindowSeconds,
		MaxRequests:   deps.VerifyRateLimit.MaxAttempts,
	}, middleware.KeyByCallerAndParam("id"), deps.Log)
	api.POST("/requests/:id/pickup/verify", verifyLimit, requestHandler.VerifyPickup)
	api.POST("/requests/:id/delivery/verify", verifyLimit, requestHandler.VerifyDelivery)

	return r
}
