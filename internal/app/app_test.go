package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/config"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/logging"
	"github.com/ICME-Lab/verifiable-agent-kit-sub000/internal/repository"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Store.Backend = backend
	cfg.Store.Dir = t.TempDir()
	cfg.Oracle.HandshakeTimeout = time.Second
	cfg.Wallet.Timeout = time.Minute
	cfg.Transfer.URL = "http://127.0.0.1:1"
	return cfg
}

// silentOracle accepts websocket connections and reads until they close.
func silentOracle(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := logging.Nop()

	store, closeFn, err := OpenStore(ctx, testConfig(t, "memory"), logger)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryWorkflowStore{}, store)
	closeFn()

	store, closeFn, err = OpenStore(ctx, testConfig(t, "file"), logger)
	require.NoError(t, err)
	assert.IsType(t, &repository.FileWorkflowStore{}, store)
	closeFn()

	_, _, err = OpenStore(ctx, testConfig(t, "cassandra"), logger)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestBuild(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, "memory")
	cfg.Oracle.URL = silentOracle(t)

	rt, err := Build(ctx, cfg, logging.Nop())
	require.NoError(t, err)
	defer rt.Close()

	record, err := rt.Service.Submit(ctx, "wait 1 second", "")
	require.NoError(t, err)
	stored, err := rt.Store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, stored.ID)
	assert.NotNil(t, rt.Wallet)
	assert.NotNil(t, rt.Executor)
}

func TestBuild_OracleUnreachable(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Oracle.URL = "ws://127.0.0.1:1/ws"

	_, err := Build(context.Background(), cfg, logging.Nop())
	assert.ErrorContains(t, err, "proof oracle")
}
