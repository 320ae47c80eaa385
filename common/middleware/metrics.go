package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	awspkg "github.com/yashrajoria/catalog-service/pkg/aws"
)

// MetricsRecorder is the subset of the CloudWatch metrics client the
// middleware needs.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
	IsEnabled() bool
}

// MetricsMiddleware creates a Gin middleware that tracks HTTP metrics.
// Recording happens off the request goroutine.
func MetricsMiddleware(metricsClient MetricsRecorder, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsClient == nil || !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		// FullPath keeps route templates such as /imports/jobs/:id so the
		// dimension cardinality stays bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  method,
			"Path":    path,
			"Status":  statusCodeToRange(statusCode),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTPRequests, dimensions)
			_ = metricsClient.RecordLatency(ctx, awspkg.MetricHTTPLatency, duration, dimensions)

			if statusCode >= 400 {
				_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTPErrors, dimensions)
				if statusCode < 500 {
					_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP4xx, dimensions)
				} else {
					_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTP5xx, dimensions)
				}
			}
		}()
	}
}

// statusCodeToRange converts status code to a range string (2xx, 3xx, 4xx, 5xx)
func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
