package sales

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Validation(t *testing.T) {
	t.Run("missing primary url returns error", func(t *testing.T) {
		client, err := NewClient(Config{})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "primary sales url is required")
	})

	t.Run("primary only creates one endpoint", func(t *testing.T) {
		client, err := NewClient(Config{PrimaryURL: "http://localhost:8081"})
		require.NoError(t, err)
		assert.Len(t, client.endpoints, 1)
	})

	t.Run("primary and backup create two endpoints", func(t *testing.T) {
		client, err := NewClient(Config{
			PrimaryURL: "http://localhost:8081",
			BackupURL:  "http://localhost:8082",
		})
		require.NoError(t, err)
		require.Len(t, client.endpoints, 2)
		assert.Equal(t, "primary", client.endpoints[0].name)
		assert.Equal(t, "backup", client.endpoints[1].name)
	})

	t.Run("defaults are applied", func(t *testing.T) {
		client, err := NewClient(Config{PrimaryURL: "http://localhost:8081"})
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, client.config.Timeout)
		assert.Equal(t, 5, client.config.BreakerThreshold)
		assert.Equal(t, 30*time.Second, client.config.BreakerTimeout)
	})
}

func TestEndpoint_Availability(t *testing.T) {
	ep := &endpoint{name: "primary", url: "http://localhost:8081"}

	t.Run("fresh endpoint is available", func(t *testing.T) {
		assert.True(t, ep.available())
	})

	t.Run("open breaker makes it unavailable", func(t *testing.T) {
		ep.openUntil.Store(time.Now().Add(10 * time.Second).Unix())
		assert.False(t, ep.available())
	})

	t.Run("expired breaker makes it available again", func(t *testing.T) {
		ep.openUntil.Store(time.Now().Add(-1 * time.Second).Unix())
		assert.True(t, ep.available())
	})

	t.Run("success resets the breaker", func(t *testing.T) {
		ep.consecutiveFails.Store(4)
		ep.openUntil.Store(time.Now().Add(10 * time.Second).Unix())
		ep.recordSuccess()
		assert.True(t, ep.available())
		assert.Equal(t, int32(0), ep.consecutiveFails.Load())
	})
}

func TestClient_PickPrefersPrimary(t *testing.T) {
	client, err := NewClient(Config{
		PrimaryURL: "http://localhost:8081",
		BackupURL:  "http://localhost:8082",
	})
	require.NoError(t, err)

	t.Run("primary wins when healthy", func(t *testing.T) {
		ep, err := client.pick()
		require.NoError(t, err)
		assert.Equal(t, "primary", ep.name)
	})

	t.Run("fails over to backup when primary breaker is open", func(t *testing.T) {
		client.endpoints[0].openUntil.Store(time.Now().Add(10 * time.Second).Unix())

		ep, err := client.pick()
		require.NoError(t, err)
		assert.Equal(t, "backup", ep.name)
	})

	t.Run("errors when every breaker is open", func(t *testing.T) {
		until := time.Now().Add(10 * time.Second).Unix()
		for _, ep := range client.endpoints {
			ep.openUntil.Store(until)
		}

		_, err := client.pick()
		assert.ErrorIs(t, err, ErrNoAvailableEndpoints)
	})
}

func TestClient_BreakerOpensAtThreshold(t *testing.T) {
	client, err := NewClient(Config{
		PrimaryURL:       "http://localhost:8081",
		BreakerThreshold: 3,
		BreakerTimeout:   10 * time.Second,
	})
	require.NoError(t, err)

	ep := client.endpoints[0]

	client.recordFailure(ep)
	client.recordFailure(ep)
	assert.True(t, ep.available())

	client.recordFailure(ep)
	assert.False(t, ep.available())
	assert.Greater(t, ep.openUntil.Load(), time.Now().Unix())
}
