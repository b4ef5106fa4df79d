package protocol

import "strings"

// AddressSeparator joins the local and domain parts of a mailbox
// address.
const AddressSeparator = "^"

// Command names.
const (
	CmdHello  = "HELLO"
	CmdNoop   = "NOOP"
	CmdQuit   = "QUIT"
	CmdList   = "LIST"
	CmdFetch  = "FETCH"
	CmdSend   = "SEND"
	CmdDelete = "DELETE"
)

// Handshake markers, sent as single-element JSON arrays.
const (
	MarkerVerified     = "USER SECURELY VERIFIED"
	MarkerNotFound     = "404:-USER NOT FOUND"
	MarkerSignUp       = "SIGN UP"
	MarkerSignedUp     = "SIGNED UP"
	MarkerSignUpFailed = "SIGNUP_FAILED"
)

// Status words used in return payloads.
const (
	StatusOK             = "OK"
	StatusGoodbye        = "GOODBYE"
	StatusNoop           = "NOOP"
	StatusMailSent       = "MAIL_SENT"
	StatusMailNotSent    = "MAIL_NOT_SENT"
	StatusMailDeleted    = "MAIL_DELETED"
	StatusMailNotDeleted = "MAIL_NOT_DELETED"
	StatusMailNotFound   = "MAIL_NOT_FOUND"
	StatusNotPermitted   = "NOT_PERMITTED"
	StatusInvalidSession = "INVALID_SESSION"
	StatusError          = "ERROR"
)

// Failure details.
const (
	DetailAddressTaken     = "ADDRESS_TAKEN"
	DetailRecipientUnknown = "TO_USER_NOT_EXIST"
	DetailNoSuchMail       = "MAIL_OR_MAIL_ID_DOESNT_EXIST"
	DetailForeignMailbox   = "NOT_YOUR_MAILBOX"
	DetailBadArguments     = "BAD_ARGUMENTS"
	DetailInternal         = "INTERNAL"
	DetailUnknownCommand   = "UNKNOWN_COMMAND"
	DetailStaleToken       = "CONNECTION_KEY_NOT_RECOGNISED"
)

// QualifyAddress appends the domain part when the address is a bare
// local part.
func QualifyAddress(address, domain string) string {
	if strings.Contains(address, AddressSeparator) {
		return address
	}
	return address + AddressSeparator + domain
}
