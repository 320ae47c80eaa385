package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger instance
var Log = zap.NewNop()

// RequestIDKey is the key used to store request ID in context
const RequestIDKey = "request_id"

// Initialize sets up the logger with the specified environment
func Initialize(env string) {
	InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger with the specified environment and
// an optional CloudWatch writer tee'd next to the console.
func InitializeWithWriter(env string, cloudWatchWriter io.Writer) {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cloudWatchWriter != nil {
		level := zap.NewAtomicLevelAt(config.Level.Level())
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(os.Stdout), level)

		// CloudWatch gets JSON without terminal colors
		cwEncoder := config.EncoderConfig
		cwEncoder.EncodeLevel = zapcore.CapitalLevelEncoder
		cwCore := zapcore.NewCore(zapcore.NewJSONEncoder(cwEncoder), zapcore.AddSync(cloudWatchWriter), level)

		Log = zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		var err error
		Log, err = config.Build()
		if err != nil {
			fmt.Printf("Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
	}
	zap.ReplaceGlobals(Log)
}

// RequestID assigns every request an id, reusing X-Request-ID when the
// caller sent one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// FromContext returns the global logger annotated with the request id.
func FromContext(ctx context.Context) *zap.Logger {
	return Log.With(zap.String("request_id", getRequestID(ctx)))
}

// Error logs an error with request ID and additional context
func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	FromContext(ctx).Error(msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

type requestIDContextKey struct{}

// WithContext creates a new context with the given request ID
func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

func getRequestID(ctx context.Context) string {
	if ginCtx, ok := ctx.(*gin.Context); ok {
		if requestID := ginCtx.GetString(RequestIDKey); requestID != "" {
			return requestID
		}
	}
	if requestID, ok := ctx.Value(requestIDContextKey{}).(string); ok {
		return requestID
	}
	return "unknown"
}
