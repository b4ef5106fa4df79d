package crypt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewSessionKey()
	require.NoError(t, err)

	blob, err := Seal(key, []byte("hi"))
	require.NoError(t, err)
	require.NotContains(t, string(blob), "hi")

	plaintext, err := Open(key, blob)
	require.NoError(t, err)
	require.Equal(t, "hi", string(plaintext))
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, err := NewSessionKey()
	require.NoError(t, err)
	other, err := NewSessionKey()
	require.NoError(t, err)

	blob, err := Seal(key, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(other, blob)
	require.Error(t, err)
}

func TestOpenTamperedBlobFails(t *testing.T) {
	key, err := NewSessionKey()
	require.NoError(t, err)
	blob, err := Seal(key, []byte("secret"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = Open(key, blob)
	require.Error(t, err)
}

func TestOpenShortBlob(t *testing.T) {
	key, err := NewSessionKey()
	require.NoError(t, err)
	_, err = Open(key, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidBlob)
}

func TestParseMasterKey(t *testing.T) {
	raw, err := NewSessionKey()
	require.NoError(t, err)

	key, err := ParseMasterKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, key)

	_, err = ParseMasterKey("not base64!!")
	require.Error(t, err)

	_, err = ParseMasterKey(base64.StdEncoding.EncodeToString([]byte("short")))
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestSealBadKeySize(t *testing.T) {
	_, err := Seal([]byte("short"), []byte("x"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
