// Package client implements the client half of the mail protocol. It
// exists so that anything presenting mail to a user, the CLI included,
// talks to the server purely through the wire protocol.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"github.io/infrasutra/ycap/internal/crypt"
	"github.io/infrasutra/ycap/internal/protocol"
)

var (
	// ErrUserNotFound is returned by Dial when the server rejects the
	// credential; the caller may SignUp and dial again.
	ErrUserNotFound = errors.New("user not found or credential rejected")

	// ErrAddressTaken is returned by SignUp for an existing address.
	ErrAddressTaken = errors.New("address already taken")

	// ErrNotPermitted is returned when the server refuses an operation
	// on another mailbox.
	ErrNotPermitted = errors.New("not permitted")

	// ErrMailNotFound is returned by Fetch and Delete for an unknown
	// or inaccessible message id.
	ErrMailNotFound = errors.New("mail not found")

	// ErrRecipientUnknown is returned by Send when the recipient has
	// no mailbox.
	ErrRecipientUnknown = errors.New("recipient unknown")

	// ErrInvalidSession is returned once the session token has been
	// invalidated.
	ErrInvalidSession = errors.New("invalid session")
)

// Client is one authenticated protocol session.
type Client struct {
	conn    net.Conn
	token   string
	address string
	key     []byte
}

// Dial connects and runs the full handshake. On ErrUserNotFound the
// connection has been closed; sign up first, then dial again.
func Dial(ctx context.Context, addr, address, password string, masterKey []byte) (*Client, error) {
	conn, sessionKey, err := openSession(ctx, addr, address, masterKey)
	if err != nil {
		return nil, err
	}

	sealed, err := crypt.Seal(sessionKey, []byte(password))
	if err != nil {
		conn.Close()
		return nil, err
	}
	creds := protocol.Credentials{Credentials: base64.StdEncoding.EncodeToString(sealed)}
	if err := protocol.WriteJSON(conn, creds); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send credentials: %w", err)
	}

	var marker []string
	if err := protocol.ReadJSON(conn, &marker); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read verification: %w", err)
	}
	if len(marker) == 0 || marker[0] != protocol.MarkerVerified {
		conn.Close()
		return nil, ErrUserNotFound
	}

	tokenFrame, err := protocol.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read session token: %w", err)
	}

	return &Client{
		conn:    conn,
		token:   string(tokenFrame),
		address: address,
		key:     sessionKey,
	}, nil
}

// SignUp creates a mailbox. It drives the handshake into the rejected
// branch with the desired identity, then submits the sign-up request.
// The server does not log the new user in; call Dial afterwards.
func SignUp(ctx context.Context, addr, address, password string, masterKey []byte) error {
	conn, sessionKey, err := openSession(ctx, addr, address, masterKey)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Send an unusable credential so an existing address with a lucky
	// password match cannot turn into an accidental login.
	sealed, err := crypt.Seal(sessionKey, []byte{})
	if err != nil {
		return err
	}
	creds := protocol.Credentials{Credentials: base64.StdEncoding.EncodeToString(sealed)}
	if err := protocol.WriteJSON(conn, creds); err != nil {
		return fmt.Errorf("send credentials: %w", err)
	}

	var marker []string
	if err := protocol.ReadJSON(conn, &marker); err != nil {
		return fmt.Errorf("read verification: %w", err)
	}
	if len(marker) == 0 || marker[0] != protocol.MarkerNotFound {
		return ErrAddressTaken
	}

	if err := protocol.WriteJSON(conn, []string{protocol.MarkerSignUp}); err != nil {
		return fmt.Errorf("request sign-up: %w", err)
	}
	sealedAddress, err := crypt.Seal(sessionKey, []byte(address))
	if err != nil {
		return err
	}
	sealedPassword, err := crypt.Seal(sessionKey, []byte(password))
	if err != nil {
		return err
	}
	payload := []string{
		base64.StdEncoding.EncodeToString(sealedAddress),
		base64.StdEncoding.EncodeToString(sealedPassword),
	}
	if err := protocol.WriteJSON(conn, payload); err != nil {
		return fmt.Errorf("send sign-up credentials: %w", err)
	}

	var outcome []string
	if err := protocol.ReadJSON(conn, &outcome); err != nil {
		return fmt.Errorf("read sign-up outcome: %w", err)
	}
	switch {
	case len(outcome) > 0 && outcome[0] == protocol.MarkerSignedUp:
		return nil
	case len(outcome) > 0 && outcome[0] == protocol.MarkerSignUpFailed:
		return ErrAddressTaken
	default:
		return fmt.Errorf("unexpected sign-up outcome %v", outcome)
	}
}

// openSession dials and performs the identity/key-exchange prefix of
// the handshake, returning the connection and the established session
// key.
func openSession(ctx context.Context, addr, address string, masterKey []byte) (net.Conn, []byte, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial mail server: %w", err)
	}

	if err := protocol.WriteFrame(conn, []byte(address)); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send identity: %w", err)
	}

	sealedKey, err := protocol.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("read session key: %w", err)
	}
	sessionKey, err := crypt.Open(masterKey, sealedKey)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("unseal session key: %w", err)
	}
	return conn, sessionKey, nil
}

// Token exposes the session token. Tests use it to prove invalidation.
func (c *Client) Token() string {
	return c.token
}

// NetConn exposes the underlying connection for tests that need to
// speak the wire format directly.
func (c *Client) NetConn() net.Conn {
	return c.conn
}

// Address returns the mailbox address this session is bound to.
func (c *Client) Address() string {
	return c.address
}

// Close drops the connection without the QUIT exchange.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Hello checks liveness. The server answers only when the echoed
// endpoint matches its own, so a mismatch is observed as a read
// timeout rather than a reply.
func (c *Client) Hello(host string, port int) (bool, error) {
	req, err := protocol.NewRequest(c.token, protocol.CmdHello, protocol.Endpoint{Host: host, Port: port})
	if err != nil {
		return false, err
	}
	if err := protocol.WriteJSON(c.conn, req); err != nil {
		return false, fmt.Errorf("send HELLO: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	defer c.conn.SetReadDeadline(time.Time{})

	var resp protocol.Response
	if err := protocol.ReadJSON(c.conn, &resp); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		return false, fmt.Errorf("read HELLO reply: %w", err)
	}
	status, _, ok := resp.StatusPair()
	return ok && status == protocol.StatusOK, nil
}

// Noop is a keepalive.
func (c *Client) Noop() error {
	resp, err := c.roundTrip(protocol.CmdNoop)
	if err != nil {
		return err
	}
	if status, _, ok := resp.StatusPair(); !ok || status != protocol.StatusNoop {
		return fmt.Errorf("unexpected NOOP reply %s", resp.Return)
	}
	return nil
}

// Quit ends the session; the token is invalid afterwards.
func (c *Client) Quit() error {
	resp, err := c.roundTrip(protocol.CmdQuit)
	if err != nil {
		return err
	}
	defer c.conn.Close()
	if status, _, ok := resp.StatusPair(); !ok || status != protocol.StatusGoodbye {
		return fmt.Errorf("unexpected QUIT reply %s", resp.Return)
	}
	return nil
}

// List returns the session's own message ids: inbox by default, sent
// when sent is true.
func (c *Client) List(sent bool) ([]string, error) {
	resp, err := c.roundTrip(protocol.CmdList, sent)
	if err != nil {
		return nil, err
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	var ids []string
	if err := resp.Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Fetch retrieves one full message by id.
func (c *Client) Fetch(id string) (protocol.Mail, error) {
	resp, err := c.roundTrip(protocol.CmdFetch, id)
	if err != nil {
		return protocol.Mail{}, err
	}
	if err := statusError(resp); err != nil {
		return protocol.Mail{}, err
	}
	var mail protocol.Mail
	if err := resp.Decode(&mail); err != nil {
		return protocol.Mail{}, err
	}
	return mail, nil
}

// Send delivers a message to recipient; the server records this
// session's address as the sender.
func (c *Client) Send(recipient, mailType, body string) (string, error) {
	resp, err := c.roundTrip(protocol.CmdSend, recipient, mailType, body)
	if err != nil {
		return "", err
	}
	status, _, ok := resp.StatusPair()
	if !ok {
		return "", fmt.Errorf("unexpected SEND reply %s", resp.Return)
	}
	switch status {
	case protocol.StatusMailSent:
		var parts []string
		if err := resp.Decode(&parts); err != nil || len(parts) < 2 {
			return "", fmt.Errorf("malformed SEND reply %s", resp.Return)
		}
		return parts[1], nil
	case protocol.StatusMailNotSent:
		return "", ErrRecipientUnknown
	default:
		return "", statusToError(status)
	}
}

// Delete removes a message for both parties.
func (c *Client) Delete(id string) error {
	resp, err := c.roundTrip(protocol.CmdDelete, id)
	if err != nil {
		return err
	}
	status, _, ok := resp.StatusPair()
	if !ok {
		return fmt.Errorf("unexpected DELETE reply %s", resp.Return)
	}
	switch status {
	case protocol.StatusMailDeleted:
		return nil
	case protocol.StatusMailNotDeleted:
		return ErrMailNotFound
	default:
		return statusToError(status)
	}
}

func (c *Client) roundTrip(command string, args ...any) (protocol.Response, error) {
	req, err := protocol.NewRequest(c.token, command, args...)
	if err != nil {
		return protocol.Response{}, err
	}
	if err := protocol.WriteJSON(c.conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("send %s: %w", command, err)
	}
	var resp protocol.Response
	if err := protocol.ReadJSON(c.conn, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("read %s reply: %w", command, err)
	}
	return resp, nil
}

// statusError maps a failure pair in resp to a sentinel error, or nil
// when the payload is not a failure.
func statusError(resp protocol.Response) error {
	status, _, ok := resp.StatusPair()
	if !ok {
		return nil
	}
	if err := statusToError(status); err != nil {
		return err
	}
	return nil
}

func statusToError(status string) error {
	switch status {
	case protocol.StatusNotPermitted:
		return ErrNotPermitted
	case protocol.StatusInvalidSession:
		return ErrInvalidSession
	case protocol.StatusMailNotFound:
		return ErrMailNotFound
	case protocol.StatusError:
		return errors.New("server error")
	default:
		return nil
	}
}
