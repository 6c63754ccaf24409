package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(mr.Addr(), "")
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, mr.Addr(), client.Options().Addr)
}

func TestNewClientReportsUnreachable(t *testing.T) {
	client, err := NewClient("127.0.0.1:1", "")
	require.NotNil(t, client)
	defer client.Close()

	assert.Error(t, err)
}

func TestNewStorageUsesSeparateDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr(), "")
	require.NoError(t, err)
	defer client.Close()

	storage := NewStorage(client, 1)
	defer storage.Close()

	require.NoError(t, storage.Set("limiter:key", []byte("3"), 0))
	got, err := storage.Get("limiter:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), got)

	mr.Select(1)
	assert.True(t, mr.Exists("limiter:key"))
	mr.Select(0)
	assert.False(t, mr.Exists("limiter:key"))
}
