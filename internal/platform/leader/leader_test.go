package leader

//go:generate mockgen -source=leader.go -destination=mocks/mocks.go -package=mocks Provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ok, err := Static(true).IsLeader(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Static(false).IsLeader(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHTTPElector(t *testing.T) {
	var leaderName atomic.Value
	var status atomic.Int32
	leaderName.Store("followup-7d9f-abc")
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"name":"` + leaderName.Load().(string) + `","last_update":"2026-05-01T10:00:00Z"}`))
	}))
	t.Cleanup(srv.Close)

	e, err := NewHTTPElector(srv.URL, WithIdentity("followup-7d9f-abc"))
	require.NoError(t, err)

	t.Run("leader when names match", func(t *testing.T) {
		ok, err := e.IsLeader(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("follower when another pod leads", func(t *testing.T) {
		leaderName.Store("followup-7d9f-xyz")
		defer leaderName.Store("followup-7d9f-abc")
		ok, err := e.IsLeader(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("error when elector is unhealthy", func(t *testing.T) {
		status.Store(http.StatusServiceUnavailable)
		defer status.Store(http.StatusOK)
		ok, err := e.IsLeader(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
	})
}
