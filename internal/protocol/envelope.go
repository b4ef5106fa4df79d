package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is the post-handshake envelope sent by a client. Arguments
// are positional and command-specific.
type Request struct {
	ConnectionKey string            `json:"connection_key"`
	Command       string            `json:"command"`
	Arguments     []json.RawMessage `json:"arguments"`
}

// Response mirrors a request back with a command-specific payload, or
// a two-element [status, detail] pair on failure.
type Response struct {
	ConnectionKey string          `json:"connection_key"`
	Command       string          `json:"command"`
	Return        json.RawMessage `json:"return"`
}

// NewRequest builds a request envelope, marshaling each argument.
func NewRequest(key, command string, args ...any) (Request, error) {
	req := Request{
		ConnectionKey: key,
		Command:       command,
		Arguments:     make([]json.RawMessage, 0, len(args)),
	}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return Request{}, fmt.Errorf("encode argument: %w", err)
		}
		req.Arguments = append(req.Arguments, raw)
	}
	return req, nil
}

// Arg unmarshals the i-th argument into v.
func (r Request) Arg(i int, v any) error {
	if i >= len(r.Arguments) {
		return fmt.Errorf("missing argument %d for %s", i, r.Command)
	}
	if err := json.Unmarshal(r.Arguments[i], v); err != nil {
		return fmt.Errorf("decode argument %d for %s: %w", i, r.Command, err)
	}
	return nil
}

// NewResponse builds a response envelope for a return payload.
func NewResponse(key, command string, ret any) (Response, error) {
	raw, err := json.Marshal(ret)
	if err != nil {
		return Response{}, fmt.Errorf("encode return: %w", err)
	}
	return Response{ConnectionKey: key, Command: command, Return: raw}, nil
}

// Decode unmarshals the return payload into v.
func (r Response) Decode(v any) error {
	if err := json.Unmarshal(r.Return, v); err != nil {
		return fmt.Errorf("decode return for %s: %w", r.Command, err)
	}
	return nil
}

// ErrorPair is the [status, detail] failure shape.
func ErrorPair(status, detail string) [2]string {
	return [2]string{status, detail}
}

// StatusPair tries to read the return payload as a list of strings and
// returns its first two elements. ok is false when the payload has a
// different shape (i.e. it is a success payload).
func (r Response) StatusPair() (status, detail string, ok bool) {
	var parts []string
	if err := json.Unmarshal(r.Return, &parts); err != nil || len(parts) == 0 {
		return "", "", false
	}
	status = parts[0]
	if len(parts) > 1 {
		detail = parts[1]
	}
	return status, detail, true
}

// Endpoint is the [host, port] pair echoed by HELLO.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Host, e.Port})
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return errors.New("endpoint must be [host, port]")
	}
	if err := json.Unmarshal(parts[0], &e.Host); err != nil {
		return err
	}
	return json.Unmarshal(parts[1], &e.Port)
}

// Credentials carries the credential sealed under the session key,
// base64 encoded, during the handshake.
type Credentials struct {
	Credentials string `json:"credentials"`
}

// Mail is the FETCH return payload.
type Mail struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
	Body string `json:"body"`
}
