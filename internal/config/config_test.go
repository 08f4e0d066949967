package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("TAX_RATE", "")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 7*24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "X-Auth-Token", cfg.AuthHeader)
	assert.Equal(t, "inr", cfg.Pricing.Currency)
	assert.True(t, cfg.Pricing.TaxRate.Equal(decimal.RequireFromString("0.18")))
	assert.Equal(t, 5, cfg.Pricing.DeliveryDays)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_TTL", "72h")
	t.Setenv("TAX_RATE", "0.05")
	t.Setenv("CURRENCY", "USD")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg := Load()

	assert.Equal(t, 72*time.Hour, cfg.JWTTTL)
	assert.True(t, cfg.Pricing.TaxRate.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "usd", cfg.Pricing.Currency)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 8, cfg.WorkerCount)
}

func TestValidateRejectsBadPricing(t *testing.T) {
	cfg := Load()
	cfg.Pricing.TaxRate = decimal.NewFromInt(1)
	cfg.Pricing.TotalTolerance = decimal.Zero

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAX_RATE")
	assert.Contains(t, err.Error(), "TOTAL_TOLERANCE")
}

func TestValidateAPIRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	cfg := Load()

	err := cfg.ValidateAPI()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")

	cfg.JWTSecret = "s3cret"
	cfg.StripeWebhookSecret = "whsec_x"
	assert.NoError(t, cfg.ValidateAPI())
}

type fakeFetcher struct {
	value string
	err   error
	asked string
}

func (f *fakeFetcher) GetSecret(_ context.Context, id string) (string, error) {
	f.asked = id
	return f.value, f.err
}

func TestApplySecrets(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	cfg := Load()
	cfg.AWSSecretID = "storefront/prod"
	cfg.JWTSecret = "from-env"

	f := &fakeFetcher{value: `{"JWT_SECRET":"from-aws","STRIPE_SECRET_KEY":"sk_test","POSTGRES_DSN":"postgres://aws/db"}`}
	require.NoError(t, cfg.ApplySecrets(context.Background(), f))

	assert.Equal(t, "storefront/prod", f.asked)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, "sk_test", cfg.StripeSecretKey)
	assert.Equal(t, "postgres://aws/db", cfg.PostgresDSN)
}

func TestApplySecretsSkipsWithoutID(t *testing.T) {
	cfg := Load()
	cfg.AWSSecretID = ""
	f := &fakeFetcher{err: errors.New("must not be called")}
	assert.NoError(t, cfg.ApplySecrets(context.Background(), f))
	assert.Empty(t, f.asked)
}

func TestApplySecretsBadJSON(t *testing.T) {
	cfg := Load()
	cfg.AWSSecretID = "x"
	err := cfg.ApplySecrets(context.Background(), &fakeFetcher{value: "not json"})
	assert.Error(t, err)
}
