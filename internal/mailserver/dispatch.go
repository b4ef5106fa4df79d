package mailserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.io/infrasutra/ycap/internal/protocol"
	"github.io/infrasutra/ycap/internal/session"
	"github.io/infrasutra/ycap/internal/store"
)

// dispatch reads framed requests from a verified session until the
// client quits, disconnects or sends something unparseable. Requests
// on a single connection are handled strictly in arrival order.
func (s *Server) dispatch(conn net.Conn, sess *session.Session) {
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		var req protocol.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.logger.Warn("unparseable request", "address", sess.Address, "error", err)
			return
		}

		entry, ok := s.registry.Lookup(req.ConnectionKey)
		if !ok || entry.Conn != conn {
			// A token this connection does not own means a stale
			// client or tampering. Answer, purge, close.
			s.logger.Warn("invalid session token", "address", sess.Address)
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusInvalidSession, protocol.DetailStaleToken))
			s.registry.PurgeConn(conn)
			return
		}

		if quit := s.handleCommand(conn, entry, req); quit {
			return
		}
	}
}

// handleCommand executes one command. The returned flag asks the
// caller to end the connection.
func (s *Server) handleCommand(conn net.Conn, sess *session.Session, req protocol.Request) bool {
	ctx := context.Background()

	switch req.Command {
	case protocol.CmdHello:
		var endpoint protocol.Endpoint
		if err := req.Arg(0, &endpoint); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		// Liveness check: answer only when the echoed endpoint is us.
		if endpoint.Host == s.cfg.Host && endpoint.Port == s.cfg.Port {
			s.respond(conn, req, []string{protocol.StatusOK})
		}
		return false

	case protocol.CmdNoop:
		s.respond(conn, req, []string{protocol.StatusNoop})
		return false

	case protocol.CmdQuit:
		s.respond(conn, req, []string{protocol.StatusGoodbye})
		s.registry.Remove(sess.Token)
		return true

	case protocol.CmdList:
		var sent bool
		if err := req.Arg(0, &sent); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		// An explicit owner argument is allowed only for the caller's
		// own mailbox; anything else gets the authorization floor.
		if len(req.Arguments) > 1 {
			var owner string
			if err := req.Arg(1, &owner); err != nil || owner != sess.Address {
				s.respond(conn, req, protocol.ErrorPair(protocol.StatusNotPermitted, protocol.DetailForeignMailbox))
				return false
			}
		}
		direction := store.Inbox
		if sent {
			direction = store.Sent
		}
		ids, err := s.store.ListMessageIDs(ctx, sess.Address, direction)
		if err != nil {
			s.internalError(conn, req, err)
			return false
		}
		s.respond(conn, req, ids)
		return false

	case protocol.CmdFetch:
		var id string
		if err := req.Arg(0, &id); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		message, err := s.store.GetMessage(ctx, id)
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotFound, protocol.DetailNoSuchMail))
		case err != nil:
			s.internalError(conn, req, err)
		case message.Sender != sess.Address && message.Recipient != sess.Address:
			// Same answer as a missing id so other mailboxes' ids are
			// not probeable.
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotFound, protocol.DetailNoSuchMail))
		default:
			s.respond(conn, req, protocol.Mail{
				ID:   message.ID,
				From: message.Sender,
				To:   message.Recipient,
				Type: message.Type,
				Body: message.Body,
			})
		}
		return false

	case protocol.CmdSend:
		var recipient, mailType, body string
		if err := req.Arg(0, &recipient); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		if err := req.Arg(1, &mailType); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		if err := req.Arg(2, &body); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		// The sender is always the session's bound address.
		id, err := s.store.InsertMessage(ctx, sess.Address, recipient, mailType, body)
		switch {
		case errors.Is(err, store.ErrUnknownRecipient):
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotSent, protocol.DetailRecipientUnknown))
		case err != nil:
			s.internalError(conn, req, err)
		default:
			s.respond(conn, req, []string{protocol.StatusMailSent, id})
		}
		return false

	case protocol.CmdDelete:
		var id string
		if err := req.Arg(0, &id); err != nil {
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailBadArguments))
			return false
		}
		// Only a current holder (sender or recipient) may delete, and
		// the delete is hard: the row disappears for both parties.
		message, err := s.store.GetMessage(ctx, id)
		switch {
		case errors.Is(err, store.ErrMessageNotFound):
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotDeleted, protocol.DetailNoSuchMail))
			return false
		case err != nil:
			s.internalError(conn, req, err)
			return false
		case message.Sender != sess.Address && message.Recipient != sess.Address:
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotDeleted, protocol.DetailNoSuchMail))
			return false
		}
		switch err := s.store.DeleteMessage(ctx, id); {
		case errors.Is(err, store.ErrMessageNotFound):
			s.respond(conn, req, protocol.ErrorPair(protocol.StatusMailNotDeleted, protocol.DetailNoSuchMail))
		case err != nil:
			s.internalError(conn, req, err)
		default:
			s.respond(conn, req, []string{protocol.StatusMailDeleted, id})
		}
		return false

	default:
		s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailUnknownCommand))
		return false
	}
}

func (s *Server) respond(conn net.Conn, req protocol.Request, ret any) {
	resp, err := protocol.NewResponse(req.ConnectionKey, req.Command, ret)
	if err != nil {
		s.logger.Error("encode response", "command", req.Command, "error", err)
		return
	}
	if err := protocol.WriteJSON(conn, resp); err != nil {
		s.logger.Warn("write response", "command", req.Command, "error", err)
	}
}

func (s *Server) internalError(conn net.Conn, req protocol.Request, err error) {
	s.logger.Error("command failed", "command", req.Command, "error", err)
	s.respond(conn, req, protocol.ErrorPair(protocol.StatusError, protocol.DetailInternal))
}
