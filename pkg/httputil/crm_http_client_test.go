package httputil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Timeout = 5 * time.Second
	client := NewClient(cfg)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 20, transport.MaxIdleConnsPerHost)
	assert.NotSame(t, http.DefaultTransport, client.Transport)

	assert.Equal(t, 30*time.Second, NewClient(nil).Timeout)
}
