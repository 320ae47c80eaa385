package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	co := clientOptions(Options{
		URI:            "mongodb://localhost:27017/?replicaSet=rs0",
		Database:       "catalog",
		ConnectTimeout: 3 * time.Second,
		MaxPoolSize:    20,
	})

	require.NoError(t, co.Validate())
	assert.Equal(t, appName, *co.AppName)
	assert.Equal(t, uint64(20), *co.MaxPoolSize)
	assert.Equal(t, 3*time.Second, *co.ConnectTimeout)
	assert.Equal(t, 3*time.Second, *co.ServerSelectionTimeout)
	assert.Equal(t, "majority", co.WriteConcern.W)
	assert.Equal(t, "majority", co.ReadConcern.Level)
}

func TestClientOptions_ZeroValuesKeepDriverDefaults(t *testing.T) {
	co := clientOptions(Options{URI: "mongodb://localhost:27017"})

	assert.Nil(t, co.MaxPoolSize)
	assert.Nil(t, co.ConnectTimeout)
}

func TestClose_BeforeConnect(t *testing.T) {
	assert.NoError(t, Close(context.Background()))
}
