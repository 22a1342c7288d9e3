package api

import (
	"net/netip"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"thetiptop/internal/api/middleware"
	v1 "thetiptop/internal/api/v1"
	"thetiptop/internal/service"
	"thetiptop/internal/sse"
)

type Services struct {
	Auth       *service.AuthService
	User       *service.UserService
	Gain       *service.GainService
	Code       *service.CodeService
	Redemption *service.RedemptionService
	Stats      *service.StatsService
	Audit      *service.AuditService
	System     *service.SystemService
	Events     *sse.SSEHub
}

type RouterConfig struct {
	Logger        *zap.Logger
	InternalToken string
	// InternalNetworks may reach /internal without the token.
	InternalNetworks []netip.Prefix
	Cookies          v1.CookieConfig
	// Middlewares run before every route, after recovery. CORS goes here.
	Middlewares []gin.HandlerFunc
}

// NewRouter assembles the public API, the probes and the internal metrics endpoint.
func NewRouter(cfg RouterConfig, svc Services) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	for _, mw := range cfg.Middlewares {
		if mw != nil {
			router.Use(mw)
		}
	}
	router.Use(middleware.RequestLogger(logger))

	v1.RegisterHealthRoutes(router, svc.System)
	v1.RegisterHealthRoutes(router.Group("/api/v1"), svc.System)

	internal := router.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(cfg.InternalToken, cfg.InternalNetworks...))
	internal.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	if svc.System != nil {
		apiV1.Use(middleware.MaintenanceMode(svc.System.IsMaintenance))
	}
	v1.RegisterAuthRoutes(apiV1, svc.Auth, cfg.Cookies)
	v1.RegisterUserRoutes(apiV1, svc.User)
	v1.RegisterGainRoutes(apiV1, svc.Gain)
	v1.RegisterCodeRoutes(apiV1, svc.Redemption, svc.Code)
	v1.RegisterSystemRoutes(apiV1, svc.System, svc.Stats)
	v1.RegisterAuditRoutes(apiV1, svc.Audit)
	v1.RegisterSSERoutes(apiV1, svc.Events)

	return router
}
