package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/GoPolymarket/astervol/internal/middleware"
)

type RouterOptions struct {
	Status       *StatusHandler
	Audit        *AuditHandler
	AdminKey     string
	RateLimitQPS float64
	Metrics      bool
}

func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	if opts.RateLimitQPS > 0 {
		burst := int(opts.RateLimitQPS)
		if burst < 1 {
			burst = 1
		}
		r.Use(middleware.RateLimitMiddleware(rate.NewLimiter(rate.Limit(opts.RateLimitQPS), burst)))
	}

	r.GET("/health", opts.Status.Health)
	if opts.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.GET("/status", opts.Status.Status)
	if opts.Audit != nil {
		v1.GET("/orders", opts.Audit.List)
	}
	v1.POST("/stop", middleware.AdminMiddleware(opts.AdminKey), opts.Status.Stop)
	return r
}
