package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Minute, c.Cascade.GlobalTTL)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, c.Cascade.Weights)
	assert.Equal(t, []string{"add", "promote"}, c.Suggestions.AutoApproveKinds)
	assert.Equal(t, "memory", c.Storage.Backend)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
environment: test
cascade:
  global_ttl: 30s
  weights: [0.4, 0.3, 0.2, 0.1]
suggestions:
  auto_approve_threshold: 0.9
`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.Cascade.GlobalTTL)
	assert.Equal(t, 2*time.Minute, c.Cascade.WatchlistTTL)
	assert.Equal(t, []float64{0.4, 0.3, 0.2, 0.1}, c.Cascade.Weights)
	assert.InDelta(t, 0.9, c.Suggestions.AutoApproveThreshold, 1e-9)
}

func TestParseRejectsBadWeights(t *testing.T) {
	_, err := Parse([]byte("cascade:\n  weights: [0.5, 0.5, 0.5, 0.5]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cascade.weights")
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		wantErr bool
	}{
		{"equal", []float64{0.25, 0.25, 0.25, 0.25}, false},
		{"skewed", []float64{0.1, 0.2, 0.3, 0.4}, false},
		{"too few", []float64{0.5, 0.5}, true},
		{"negative", []float64{1.5, -0.5, 0, 0}, true},
		{"short of one", []float64{0.2, 0.2, 0.2, 0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePostgresNeedsDSN(t *testing.T) {
	c := Default()
	c.Storage.Backend = "postgres"
	assert.Error(t, c.Validate())
	c.Storage.PostgresDSN = "postgres://localhost/cascade"
	assert.NoError(t, c.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_HOST", "redis.local")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	c := Default()
	c.ApplyEnv()
	assert.Equal(t, "s3cret", c.Auth.JWTSecret)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis.local", c.Redis.Host)
	assert.Equal(t, []string{"a:9092", "b:9092"}, c.Kafka.Brokers)
}
