package session

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server
}

func TestRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()
	conn := pipeConn(t)

	sess := registry.Register("alice^ycap.com", []byte("key"), conn)
	require.NotEmpty(t, sess.Token)

	got, ok := registry.Lookup(sess.Token)
	require.True(t, ok)
	require.Same(t, sess, got)
	require.Equal(t, "alice^ycap.com", got.Address)
}

func TestTokensAreUnique(t *testing.T) {
	registry := NewRegistry()
	conn := pipeConn(t)

	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		sess := registry.Register("alice^ycap.com", nil, conn)
		_, dup := seen[sess.Token]
		require.False(t, dup)
		seen[sess.Token] = struct{}{}
	}
}

func TestRemoveInvalidatesToken(t *testing.T) {
	registry := NewRegistry()
	sess := registry.Register("alice^ycap.com", nil, pipeConn(t))

	registry.Remove(sess.Token)
	_, ok := registry.Lookup(sess.Token)
	require.False(t, ok)
}

func TestPurgeConn(t *testing.T) {
	registry := NewRegistry()
	target := pipeConn(t)
	other := pipeConn(t)

	doomed := registry.Register("alice^ycap.com", nil, target)
	kept := registry.Register("bob^ycap.com", nil, other)

	registry.PurgeConn(target)

	_, ok := registry.Lookup(doomed.Token)
	require.False(t, ok)
	_, ok = registry.Lookup(kept.Token)
	require.True(t, ok)
	require.Equal(t, 1, registry.Len())
}

func TestCloseAll(t *testing.T) {
	registry := NewRegistry()
	registry.Register("alice^ycap.com", nil, pipeConn(t))
	registry.Register("bob^ycap.com", nil, pipeConn(t))

	registry.CloseAll()
	require.Equal(t, 0, registry.Len())
}

func TestConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	conns := make([]net.Conn, 20)
	for i := range conns {
		conns[i] = pipeConn(t)
	}

	var wg sync.WaitGroup
	missing := make(chan string, len(conns))
	for _, conn := range conns {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			sess := registry.Register("user^ycap.com", nil, conn)
			if _, ok := registry.Lookup(sess.Token); !ok {
				missing <- sess.Token
			}
			registry.PurgeConn(conn)
		}(conn)
	}
	wg.Wait()
	close(missing)
	require.Empty(t, missing)
	require.Equal(t, 0, registry.Len())
}
