package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretFetcher interface {
	GetSecret(ctx context.Context, id string) (string, error)
}

// SecretsManager reads a JSON secret bundle from AWS Secrets Manager.
type SecretsManager struct {
	client *secretsmanager.Client
}

func NewSecretsManager(ctx context.Context) (*SecretsManager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManager{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *SecretsManager) GetSecret(ctx context.Context, id string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}
	return *out.SecretString, nil
}

// ApplySecrets fills empty secret settings from the bundle named by
// AWS_SECRET_ID. Values already present in the environment win.
func (c *Config) ApplySecrets(ctx context.Context, f SecretFetcher) error {
	if c.AWSSecretID == "" {
		return nil
	}
	raw, err := f.GetSecret(ctx, c.AWSSecretID)
	if err != nil {
		return err
	}
	var bundle map[string]string
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return fmt.Errorf("decode secret %s: %w", c.AWSSecretID, err)
	}
	fill(&c.JWTSecret, bundle["JWT_SECRET"])
	fill(&c.StripeSecretKey, bundle["STRIPE_SECRET_KEY"])
	fill(&c.StripeWebhookSecret, bundle["STRIPE_WEBHOOK_SECRET"])
	fill(&c.EncryptionKey, bundle["ENCRYPTION_KEY"])
	if v := bundle["POSTGRES_DSN"]; v != "" && !envSet("POSTGRES_DSN") {
		c.PostgresDSN = v
	}
	return nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
