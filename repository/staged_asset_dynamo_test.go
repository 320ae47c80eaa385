package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/yashrajoria/catalog-service/models"
)

type memDynamo struct {
	items       map[string]map[string]types.AttributeValue
	writeCalls  int
	getCalls    int
	unprocessed int // number of leading BatchWriteItem calls that bounce one item
}

func newMemDynamo() *memDynamo {
	return &memDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	return item["temp_key"].(*types.AttributeValueMemberS).Value
}

func (m *memDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memDynamo) BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	m.getCalls++
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range in.RequestItems {
		for _, k := range ka.Keys {
			if item, ok := m.items[keyOf(k)]; ok {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
	}
	return out, nil
}

func (m *memDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.writeCalls++
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		for i, r := range reqs {
			if m.unprocessed > 0 && i == 0 {
				m.unprocessed--
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			if r.PutRequest != nil {
				m.items[keyOf(r.PutRequest.Item)] = r.PutRequest.Item
			}
			if r.DeleteRequest != nil {
				delete(m.items, keyOf(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func newTestAdapter(db *memDynamo, now time.Time) *DynamoStagedAssetAdapter {
	a := NewDynamoStagedAssetAdapter(db, "StagedAssets")
	a.now = func() time.Time { return now }
	a.backoff = 0
	return a
}

func TestStagedAssets_FindByKeysSkipsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := newMemDynamo()
	a := newTestAdapter(db, now)

	assert.NoError(t, a.Put(context.Background(), models.StagedAsset{TempKey: "live", Locator: "staging/live.jpg", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	assert.NoError(t, a.Put(context.Background(), models.StagedAsset{TempKey: "old", Locator: "staging/old.jpg", CreatedAt: now, ExpiresAt: now.Add(-time.Minute)}))

	found, err := a.FindByKeys(context.Background(), []string{"live", "old", "missing", "live"})
	assert.NoError(t, err)
	if assert.Len(t, found, 1) {
		assert.Equal(t, "staging/live.jpg", found[0].Locator)
		assert.True(t, now.Add(time.Hour).Equal(found[0].ExpiresAt))
	}
}

func TestStagedAssets_DeleteManyChunksAndRetries(t *testing.T) {
	db := newMemDynamo()
	a := newTestAdapter(db, time.Now())
	var keys []string
	for i := 0; i < 30; i++ {
		k := fmt.Sprintf("k%02d", i)
		keys = append(keys, k)
		item, _ := attributevalue.MarshalMap(ddbStagedAsset{TempKey: k, Locator: "staging/" + k})
		db.items[k] = item
	}
	db.unprocessed = 1

	assert.NoError(t, a.DeleteMany(context.Background(), keys))
	assert.Empty(t, db.items)
	// 25 + retry of the bounced item + 5
	assert.Equal(t, 3, db.writeCalls)
}

func TestStagedAssets_BatchWriteGivesUpAfterRetries(t *testing.T) {
	db := newMemDynamo()
	db.unprocessed = 10
	a := newTestAdapter(db, time.Now())

	err := a.PutMany(context.Background(), []models.StagedAsset{{TempKey: "a", Locator: "staging/a"}})
	assert.Error(t, err)
	assert.Equal(t, maxBatchRetries, db.writeCalls)
}

func TestStagedAssets_RetryBackoffStopsOnCancel(t *testing.T) {
	db := newMemDynamo()
	db.unprocessed = 10
	a := newTestAdapter(db, time.Now())
	a.backoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.PutMany(ctx, []models.StagedAsset{{TempKey: "a", Locator: "staging/a"}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, db.writeCalls)
}
