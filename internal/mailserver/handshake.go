package mailserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"

	"github.io/infrasutra/ycap/internal/crypt"
	"github.io/infrasutra/ycap/internal/protocol"
	"github.io/infrasutra/ycap/internal/session"
	"github.io/infrasutra/ycap/internal/store"
)

// handshake runs the per-connection key exchange and credential
// verification. On success the returned session is registered and the
// token has been sent to the client. A nil session with a nil error
// means the connection went through the sign-up branch and is done.
//
// Sequence, all length-prefixed frames:
//
//	client -> address
//	server -> session key sealed under the master key
//	client -> {"credentials": b64(credential sealed under session key)}
//	server -> ["USER SECURELY VERIFIED"] + token frame
//	     or   ["404:-USER NOT FOUND"] and the sign-up branch
func (s *Server) handshake(conn net.Conn) (*session.Session, error) {
	ctx := context.Background()

	identity, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	address := string(identity)

	sessionKey, err := crypt.NewSessionKey()
	if err != nil {
		return nil, err
	}
	sealedKey, err := crypt.Seal(s.cfg.MasterKey, sessionKey)
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(conn, sealedKey); err != nil {
		return nil, fmt.Errorf("offer session key: %w", err)
	}

	var creds protocol.Credentials
	if err := protocol.ReadJSON(conn, &creds); err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	secret, err := s.openSealed(sessionKey, creds.Credentials)
	if err != nil {
		// Without the master key the client cannot produce a valid
		// credential blob; drop the connection.
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}

	err = s.store.VerifyCredential(ctx, address, secret)
	switch {
	case err == nil:
		if err := protocol.WriteJSON(conn, []string{protocol.MarkerVerified}); err != nil {
			return nil, err
		}
		sess := s.registry.Register(address, sessionKey, conn)
		if err := protocol.WriteFrame(conn, []byte(sess.Token)); err != nil {
			s.registry.Remove(sess.Token)
			return nil, err
		}
		return sess, nil

	case errors.Is(err, store.ErrUnknownUser), errors.Is(err, store.ErrCredentialMismatch):
		if err := protocol.WriteJSON(conn, []string{protocol.MarkerNotFound}); err != nil {
			return nil, err
		}
		return nil, s.signup(ctx, conn, sessionKey)

	default:
		return nil, err
	}
}

// signup handles the rejected branch: the client may answer the
// not-found marker with a sign-up request carrying a new address and
// credential, both sealed under the session key already established.
// Any other response abandons the connection. There is no auto-login;
// the client reconnects to obtain a verified session.
func (s *Server) signup(ctx context.Context, conn net.Conn, sessionKey []byte) error {
	var choice []string
	if err := protocol.ReadJSON(conn, &choice); err != nil {
		return nil // disconnect or noise: abandoned
	}
	if len(choice) != 1 || choice[0] != protocol.MarkerSignUp {
		return nil
	}

	var sealed []string
	if err := protocol.ReadJSON(conn, &sealed); err != nil {
		return fmt.Errorf("read sign-up credentials: %w", err)
	}
	if len(sealed) != 2 {
		return errors.New("sign-up expects [address, credential]")
	}
	address, err := s.openSealed(sessionKey, sealed[0])
	if err != nil {
		return fmt.Errorf("decrypt sign-up address: %w", err)
	}
	secret, err := s.openSealed(sessionKey, sealed[1])
	if err != nil {
		return fmt.Errorf("decrypt sign-up credential: %w", err)
	}

	address = protocol.QualifyAddress(address, s.cfg.Domain)
	err = s.store.CreateUser(ctx, address, secret)
	switch {
	case err == nil:
		s.logger.Info("user signed up", "address", address)
		return protocol.WriteJSON(conn, []string{protocol.MarkerSignedUp})
	case errors.Is(err, store.ErrAddressTaken):
		return protocol.WriteJSON(conn, []string{protocol.MarkerSignUpFailed, protocol.DetailAddressTaken})
	default:
		return err
	}
}

// openSealed base64-decodes a sealed field and decrypts it with the
// session key.
func (s *Server) openSealed(sessionKey []byte, field string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return "", fmt.Errorf("decode sealed field: %w", err)
	}
	plaintext, err := crypt.Open(sessionKey, blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
