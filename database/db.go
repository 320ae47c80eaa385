package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"
)

const appName = "catalog-service"

var (
	MongoClient *mongo.Client
	DB          *mongo.Database
)

// Options configures the catalog's MongoDB connection.
type Options struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    int
}

// clientOptions uses majority read and write concerns so a committed import
// is never rolled back by a replica set election.
func clientOptions(opts Options) *options.ClientOptions {
	co := options.Client().
		ApplyURI(opts.URI).
		SetAppName(appName).
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())
	if opts.ConnectTimeout > 0 {
		co.SetConnectTimeout(opts.ConnectTimeout).SetServerSelectionTimeout(opts.ConnectTimeout)
	}
	if opts.MaxPoolSize > 0 {
		co.SetMaxPoolSize(uint64(opts.MaxPoolSize))
	}
	return co
}

// Connect dials MongoDB and pings it within ConnectTimeout.
func Connect(ctx context.Context, opts Options) error {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(timeoutCtx, clientOptions(opts))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(timeoutCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	MongoClient = client
	DB = client.Database(opts.Database)
	zap.L().Info("Connected to MongoDB",
		zap.String("database", opts.Database),
		zap.Int("max_pool_size", opts.MaxPoolSize),
	)
	return nil
}

// Close disconnects from MongoDB. It is a no-op before Connect.
func Close(ctx context.Context) error {
	if MongoClient == nil {
		return nil
	}
	if err := MongoClient.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	MongoClient, DB = nil, nil
	zap.L().Info("Disconnected from MongoDB")
	return nil
}
