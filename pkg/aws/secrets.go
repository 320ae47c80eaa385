package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// SecretsClient reads string secrets and caches each one for ttl so rotated
// values are picked up without a restart. A zero ttl caches forever.
type SecretsClient struct {
	client secretsAPI
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config, ttl time.Duration) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg), ttl)
}

func newSecretsClient(client secretsAPI, ttl time.Duration) *SecretsClient {
	return &SecretsClient{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cachedSecret),
	}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	c, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && (s.ttl <= 0 || s.now().Sub(c.fetchedAt) < s.ttl) {
		return c.value, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	value := sdkaws.ToString(out.SecretString)
	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
	return value, nil
}

// GetSecretField reads one key of a key/value secret. An empty result with a
// nil error means the key is absent.
func (s *SecretsClient) GetSecretField(ctx context.Context, name, field string) (string, error) {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a key/value secret: %w", name, err)
	}
	switch v := fields[field].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
