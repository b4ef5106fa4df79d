package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestCreateUserAndVerify(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))

	require.NoError(t, s.VerifyCredential(ctx, "alice^ycap.com", "pw1"))
	require.ErrorIs(t, s.VerifyCredential(ctx, "alice^ycap.com", "wrong"), ErrCredentialMismatch)
	require.ErrorIs(t, s.VerifyCredential(ctx, "nobody^ycap.com", "pw1"), ErrUnknownUser)
}

func TestCreateUserDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))
	require.ErrorIs(t, s.CreateUser(ctx, "alice^ycap.com", "other"), ErrAddressTaken)
}

func TestCredentialStoredHashed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))

	var stored string
	row := s.db.QueryRowContext(ctx, `SELECT credential FROM users WHERE address = ?;`, "alice^ycap.com")
	require.NoError(t, row.Scan(&stored))
	require.NotEqual(t, "pw1", stored)
	require.NotContains(t, stored, "pw1")
}

func TestInsertMessageUnknownRecipient(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))

	_, err := s.InsertMessage(ctx, "alice^ycap.com", "ghost^ycap.com", "plain", "hi")
	require.ErrorIs(t, err, ErrUnknownRecipient)

	ids, err := s.ListMessageIDs(ctx, "alice^ycap.com", Sent)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))
	require.NoError(t, s.CreateUser(ctx, "bob^ycap.com", "pw2"))

	id, err := s.InsertMessage(ctx, "alice^ycap.com", "bob^ycap.com", "plain", "hi")
	require.NoError(t, err)
	require.Len(t, id, 16)

	inbox, err := s.ListMessageIDs(ctx, "bob^ycap.com", Inbox)
	require.NoError(t, err)
	require.Equal(t, []string{id}, inbox)

	sent, err := s.ListMessageIDs(ctx, "alice^ycap.com", Sent)
	require.NoError(t, err)
	require.Equal(t, []string{id}, sent)

	// The other directions stay empty.
	empty, err := s.ListMessageIDs(ctx, "alice^ycap.com", Inbox)
	require.NoError(t, err)
	require.Empty(t, empty)

	message, err := s.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, Message{
		ID:        id,
		Sender:    "alice^ycap.com",
		Recipient: "bob^ycap.com",
		Type:      "plain",
		Body:      "hi",
	}, message)

	require.NoError(t, s.DeleteMessage(ctx, id))
	_, err = s.GetMessage(ctx, id)
	require.ErrorIs(t, err, ErrMessageNotFound)

	// Hard delete: gone from the sender's view as well.
	sent, err = s.ListMessageIDs(ctx, "alice^ycap.com", Sent)
	require.NoError(t, err)
	require.Empty(t, sent)
}

func TestDeleteMissingMessage(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.ErrorIs(t, s.DeleteMessage(ctx, "0123456789abcdef"), ErrMessageNotFound)
}

func TestListOrderIsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))
	require.NoError(t, s.CreateUser(ctx, "bob^ycap.com", "pw2"))

	var want []string
	for i := 0; i < 5; i++ {
		id, err := s.InsertMessage(ctx, "alice^ycap.com", "bob^ycap.com", "plain", "body")
		require.NoError(t, err)
		want = append(want, id)
	}

	got, err := s.ListMessageIDs(ctx, "bob^ycap.com", Inbox)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateUser(ctx, "alice^ycap.com", "pw1"))
	require.NoError(t, s.CreateUser(ctx, "bob^ycap.com", "pw2"))

	const senders = 10
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.InsertMessage(ctx, "alice^ycap.com", "bob^ycap.com", "plain", "hello")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	inbox, err := s.ListMessageIDs(ctx, "bob^ycap.com", Inbox)
	require.NoError(t, err)
	require.Len(t, inbox, senders)

	// Every message is independently retrievable and deletable.
	for _, id := range inbox {
		_, err := s.GetMessage(ctx, id)
		require.NoError(t, err)
		require.NoError(t, s.DeleteMessage(ctx, id))
	}
}
