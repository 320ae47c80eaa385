package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const commitRetries = 2

// MongoTransactor opens session-scoped transactions. Transactions require a
// replica set or sharded cluster; a standalone mongod rejects them.
type MongoTransactor struct {
	client *mongo.Client
}

func NewMongoTransactor(client *mongo.Client) *MongoTransactor {
	return &MongoTransactor{client: client}
}

type helloResult struct {
	SetName                      string `bson:"setName"`
	Msg                          string `bson:"msg"`
	LogicalSessionTimeoutMinutes *int32 `bson:"logicalSessionTimeoutMinutes"`
}

// SupportsTransactions asks the connected node for its topology. It is meant
// to be called per commit, the answer is not cached.
func (t *MongoTransactor) SupportsTransactions(ctx context.Context) (bool, error) {
	var res helloResult
	if err := t.client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&res); err != nil {
		return false, fmt.Errorf("hello command: %w", err)
	}
	clustered := res.SetName != "" || res.Msg == "isdbgrid"
	return clustered && res.LogicalSessionTimeoutMinutes != nil, nil
}

func (t *MongoTransactor) Begin(ctx context.Context) (Tx, error) {
	session, err := t.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := session.StartTransaction(txOpts); err != nil {
		session.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &mongoTx{session: session, sctx: mongo.NewSessionContext(ctx, session)}, nil
}

type mongoTx struct {
	session mongo.Session
	sctx    mongo.SessionContext
}

func (t *mongoTx) Context() context.Context { return t.sctx }

// Commit retries when the server reports an unknown commit result, which the
// driver documents as safe to retry.
func (t *mongoTx) Commit(ctx context.Context) error {
	defer t.session.EndSession(ctx)
	var err error
	for attempt := 0; attempt <= commitRetries; attempt++ {
		err = t.session.CommitTransaction(ctx)
		if err == nil {
			return nil
		}
		var se mongo.ServerError
		if !errors.As(err, &se) || !se.HasErrorLabel("UnknownTransactionCommitResult") {
			break
		}
	}
	return fmt.Errorf("commit transaction: %w", err)
}

func (t *mongoTx) Abort(ctx context.Context) error {
	defer t.session.EndSession(ctx)
	if err := t.session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("abort transaction: %w", err)
	}
	return nil
}
