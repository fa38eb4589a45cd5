package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

//go:generate moq -out mocks/secretsmanager.go -pkg mocks -skip-ensure -fmt goimports . secretsManagerClient:SecretsManagerClient

// AWS reads secrets from AWS Secrets Manager. Key can address a field of json secret with "#",
// i.e. "prod/db#password" returns the password field of the prod/db secret, the usual layout for rds.
type AWS struct {
	client secretsManagerClient
}

type secretsManagerClient interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// NewAWS makes provider with static credentials
func NewAWS(accessKeyID, secretAccessKey, region string) (*AWS, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	if err != nil {
		return nil, fmt.Errorf("can't make aws config: %w", err)
	}
	return &AWS{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Get returns secret string, or its json field if key has "#field" suffix
func (a *AWS) Get(key string) (string, error) {
	id, field, hasField := strings.Cut(key, "#")
	out, err := a.client.GetSecretValue(context.Background(), &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("can't read aws secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("aws secret %q has no string value: %w", id, ErrNotFound)
	}
	if !hasField {
		return *out.SecretString, nil
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(*out.SecretString), &fields); err != nil {
		return "", fmt.Errorf("aws secret %q is not a json object: %w", id, err)
	}
	v, ok := fields[field]
	if !ok {
		return "", fmt.Errorf("can't get field %q of aws secret %q: %w", field, id, ErrNotFound)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}
