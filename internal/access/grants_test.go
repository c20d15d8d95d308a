package access

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/bazaar/internal/cache"
	"github.com/Additional-Code/bazaar/internal/config"
)

func TestGrants_StaticCollectors(t *testing.T) {
	admin := uuid.New()
	cfg := config.Config{Access: config.Access{ElevatedCollectors: []string{admin.String()}, GrantTTL: time.Hour}}

	g, err := NewGrants(cache.NewMemoryStore(time.Hour), cfg, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, g.HasElevatedAccess(context.Background(), admin))
	assert.False(t, g.HasElevatedAccess(context.Background(), uuid.New()))
}

func TestGrants_TimedGrantAndRevoke(t *testing.T) {
	g, err := NewGrants(cache.NewMemoryStore(time.Hour), config.Config{Access: config.Access{GrantTTL: time.Hour}}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, g.Grant(ctx, id, 0))
	assert.True(t, g.HasElevatedAccess(ctx, id))

	require.NoError(t, g.Revoke(ctx, id))
	assert.False(t, g.HasElevatedAccess(ctx, id))
}

func TestGrants_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{Access: config.Access{ElevatedCollectors: []string{"not-a-uuid"}}}
	_, err := NewGrants(cache.NewMemoryStore(time.Hour), cfg, zap.NewNop())
	assert.Error(t, err)
}
