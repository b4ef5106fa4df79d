// Package session tracks authenticated connections. A session exists
// from handshake success until QUIT or disconnect; its token is valid
// exactly as long as the registry holds it.
package session

import (
	"net"
	"sync"

	"github.com/google/uuid"
)

// Session binds a token to one authenticated connection.
type Session struct {
	Token   string
	Address string
	Key     []byte
	Conn    net.Conn
}

// Registry is the process-wide token to session map. All methods are
// safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register issues a fresh unguessable token and records the session.
func (r *Registry) Register(address string, key []byte, conn net.Conn) *Session {
	sess := &Session{
		Token:   uuid.NewString(),
		Address: address,
		Key:     key,
		Conn:    conn,
	}
	r.mu.Lock()
	r.sessions[sess.Token] = sess
	r.mu.Unlock()
	return sess
}

// Lookup returns the session for a token, if it is still live.
func (r *Registry) Lookup(token string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[token]
	return sess, ok
}

// Remove invalidates a token.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	delete(r.sessions, token)
	r.mu.Unlock()
}

// PurgeConn invalidates every session bound to conn. Used on
// disconnect and when a connection presents a token it does not own.
func (r *Registry) PurgeConn(conn net.Conn) {
	r.mu.Lock()
	for token, sess := range r.sessions {
		if sess.Conn == conn {
			delete(r.sessions, token)
		}
	}
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll drops every session and closes its connection. Shutdown
// path only.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Conn.Close()
	}
}
