package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/yashrajoria/catalog-service/models"
)

const (
	batchGetLimit   = 100
	batchWriteLimit = 25
	maxBatchRetries = 3
)

// dynamoAPI is the subset of the DynamoDB client the adapter needs.
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStagedAssetAdapter keeps staged-asset records in a table keyed by
// `temp_key`. `expires_at` is the table's TTL attribute; expired records the
// TTL sweeper has not removed yet are treated as missing.
type DynamoStagedAssetAdapter struct {
	client dynamoAPI
	table  string
	now    func() time.Time
	// backoff between retries of unprocessed batch items
	backoff time.Duration
}

func NewDynamoStagedAssetAdapter(client dynamoAPI, table string) *DynamoStagedAssetAdapter {
	return &DynamoStagedAssetAdapter{client: client, table: table, now: time.Now, backoff: 300 * time.Millisecond}
}

type ddbStagedAsset struct {
	TempKey     string `dynamodbav:"temp_key"`
	Locator     string `dynamodbav:"locator"`
	Filename    string `dynamodbav:"filename,omitempty"`
	ContentType string `dynamodbav:"content_type,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
	ExpiresAt   int64  `dynamodbav:"expires_at"`
}

func toDDBStagedAsset(a models.StagedAsset) ddbStagedAsset {
	rec := ddbStagedAsset{
		TempKey:     a.TempKey,
		Locator:     a.Locator,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !a.ExpiresAt.IsZero() {
		rec.ExpiresAt = a.ExpiresAt.Unix()
	}
	return rec
}

func (d ddbStagedAsset) toModel() models.StagedAsset {
	created, _ := time.Parse(time.RFC3339, d.CreatedAt)
	asset := models.StagedAsset{
		TempKey:     d.TempKey,
		Locator:     d.Locator,
		Filename:    d.Filename,
		ContentType: d.ContentType,
		CreatedAt:   created,
	}
	if d.ExpiresAt > 0 {
		asset.ExpiresAt = time.Unix(d.ExpiresAt, 0).UTC()
	}
	return asset
}

func (a *DynamoStagedAssetAdapter) Put(ctx context.Context, asset models.StagedAsset) error {
	item, err := attributevalue.MarshalMap(toDDBStagedAsset(asset))
	if err != nil {
		return fmt.Errorf("marshal staged asset: %w", err)
	}
	if _, err := a.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &a.table, Item: item}); err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

// FindByKeys uses BatchGetItem (chunks of 100). Keys with no live record are
// simply absent from the result.
func (a *DynamoStagedAssetAdapter) FindByKeys(ctx context.Context, keys []string) ([]models.StagedAsset, error) {
	keys = uniqueStrings(keys)
	now := a.now()
	var out []models.StagedAsset
	for i := 0; i < len(keys); i += batchGetLimit {
		end := min(i+batchGetLimit, len(keys))
		reqKeys := make([]map[string]types.AttributeValue, 0, end-i)
		for _, k := range keys[i:end] {
			reqKeys = append(reqKeys, map[string]types.AttributeValue{"temp_key": &types.AttributeValueMemberS{Value: k}})
		}
		req := &dynamodb.BatchGetItemInput{RequestItems: map[string]types.KeysAndAttributes{a.table: {Keys: reqKeys}}}

		attempts := 0
		for {
			resp, err := a.client.BatchGetItem(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("batch get failed: %w", err)
			}
			for _, item := range resp.Responses[a.table] {
				var rec ddbStagedAsset
				if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
					return nil, fmt.Errorf("unmarshal staged asset: %w", err)
				}
				if rec.ExpiresAt > 0 && now.Unix() >= rec.ExpiresAt {
					continue
				}
				out = append(out, rec.toModel())
			}
			unp, ok := resp.UnprocessedKeys[a.table]
			if !ok || len(unp.Keys) == 0 {
				break
			}
			attempts++
			if attempts >= maxBatchRetries {
				return nil, fmt.Errorf("batch get had unprocessed keys after retries")
			}
			req.RequestItems[a.table] = unp
			if err := a.sleep(ctx, attempts); err != nil {
				return nil, fmt.Errorf("batch get retry: %w", err)
			}
		}
	}
	return out, nil
}

// PutMany restores records, used when a commit is compensated.
func (a *DynamoStagedAssetAdapter) PutMany(ctx context.Context, assets []models.StagedAsset) error {
	reqs := make([]types.WriteRequest, 0, len(assets))
	for _, asset := range assets {
		item, err := attributevalue.MarshalMap(toDDBStagedAsset(asset))
		if err != nil {
			return fmt.Errorf("marshal batch item: %w", err)
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	return a.batchWrite(ctx, reqs)
}

func (a *DynamoStagedAssetAdapter) DeleteMany(ctx context.Context, keys []string) error {
	keys = uniqueStrings(keys)
	reqs := make([]types.WriteRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"temp_key": &types.AttributeValueMemberS{Value: k}},
		}})
	}
	return a.batchWrite(ctx, reqs)
}

// batchWrite uses BatchWriteItem (chunks of 25) and retries unprocessed items.
func (a *DynamoStagedAssetAdapter) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	for i := 0; i < len(reqs); i += batchWriteLimit {
		end := min(i+batchWriteLimit, len(reqs))
		req := &dynamodb.BatchWriteItemInput{RequestItems: map[string][]types.WriteRequest{a.table: reqs[i:end]}}
		attempts := 0
		for {
			out, err := a.client.BatchWriteItem(ctx, req)
			if err != nil {
				return fmt.Errorf("batch write failed: %w", err)
			}
			unp, ok := out.UnprocessedItems[a.table]
			if !ok || len(unp) == 0 {
				break
			}
			attempts++
			if attempts >= maxBatchRetries {
				return fmt.Errorf("batch write had unprocessed items after retries")
			}
			req.RequestItems[a.table] = unp
			if err := a.sleep(ctx, attempts); err != nil {
				return fmt.Errorf("batch write retry: %w", err)
			}
		}
	}
	return nil
}

// sleep waits out the retry backoff and gives up early when ctx is done.
func (a *DynamoStagedAssetAdapter) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * a.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
