package store

// User is a mailbox owner. Credential holds a bcrypt hash, never the
// plaintext secret.
type User struct {
	Address    string
	Credential string
}

// Message is one stored mail. A single row serves both parties;
// deleting it removes the mail for sender and recipient alike.
type Message struct {
	ID        string
	Sender    string
	Recipient string
	Type      string
	Body      string
}

// Direction selects which side of a mailbox a listing covers.
type Direction string

const (
	Inbox Direction = "inbox"
	Sent  Direction = "sent"
)
