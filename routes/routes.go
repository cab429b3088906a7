package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/controllers"
	apperrors "github.com/yashrajoria/webhook-service/errors"
	"github.com/yashrajoria/webhook-service/logger"
	"github.com/yashrajoria/webhook-service/middleware"
	awspkg "github.com/yashrajoria/webhook-service/pkg/aws"
	"github.com/yashrajoria/webhook-service/ratelimit"
	"github.com/yashrajoria/webhook-service/services"
)

// Policies are the rate-limit policies applied per route group.
type Policies struct {
	Webhook ratelimit.Policy
	API     ratelimit.Policy
	Auth    ratelimit.Policy
}

type Dependencies struct {
	Webhook        *controllers.WebhookController
	Orders         *controllers.OrderController
	Limiter        *ratelimit.Limiter
	Policies       Policies
	AdminJWTSecret string
	Recorder       services.MetricsRecorder
	MetricsClient  *awspkg.MetricsClient
	ServiceName    string
	Logger         *zap.Logger
}

// NewRouter builds the engine with global middleware and every route.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		logger.RequestID(),
		middleware.SecurityHeaders(),
		middleware.RequestLogger(deps.Logger),
		middleware.Metrics(deps.MetricsClient, deps.ServiceName),
		apperrors.ErrorMiddleware(deps.Logger),
	)

	r.GET("/healthz", controllers.Health)

	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.RateLimit(deps.Limiter, deps.Policies.Webhook, deps.Recorder, deps.Logger))
	webhooks.POST("/payment", deps.Webhook.PaymentWebhook)

	admin := r.Group("/admin")
	admin.Use(
		middleware.RateLimit(deps.Limiter, deps.Policies.API, deps.Recorder, deps.Logger),
		middleware.AdminAuth(deps.AdminJWTSecret, deps.Limiter, deps.Policies.Auth, deps.Logger),
	)
	admin.GET("/orders/:reference", deps.Orders.GetOrderByReference)

	return r
}
