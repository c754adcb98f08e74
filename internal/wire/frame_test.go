package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTripAuthenticate(t *testing.T) {
	req := Request{
		Cmd:     CmdAuthenticate,
		UPN:     "alice@EXAMPLE.COM",
		AuthTok: []byte("hunter2"),
	}
	require.Equal(t, 4, req.FieldCount())

	encoded, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req.Cmd, decoded.Cmd)
	require.Equal(t, req.UPN, decoded.UPN)
	require.Equal(t, req.AuthTok, decoded.AuthTok)
	require.Empty(t, decoded.NewAuthTok)
}

func TestRequestRoundTripChauthtok(t *testing.T) {
	req := Request{
		Cmd:        CmdChauthtok,
		UPN:        "bob@EXAMPLE.COM",
		AuthTok:    []byte("oldpw"),
		NewAuthTok: []byte("newpw"),
	}
	require.Equal(t, 6, req.FieldCount())

	encoded, err := req.Encode()
	require.NoError(t, err)

	decoded, err := DecodeRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, req.NewAuthTok, decoded.NewAuthTok)
}

func TestReplyRoundTrip(t *testing.T) {
	reply := Reply{Status: 0, MsgType: 1, Payload: []byte("hello")}
	encoded := reply.Encode()

	decoded, err := DecodeReply(encoded)
	require.NoError(t, err)
	require.Equal(t, reply, decoded)
}

func TestReplyEmptyPayload(t *testing.T) {
	reply := Reply{Status: 0, MsgType: 0}
	encoded := reply.Encode()
	require.Len(t, encoded, replyHeaderLen)

	decoded, err := DecodeReply(encoded)
	require.NoError(t, err)
	require.Empty(t, decoded.Payload)
}

// TestReplyTruncated mirrors scenario 4 in spec §8: child declares a
// 100-byte payload but only 40 bytes follow.
func TestReplyTruncated(t *testing.T) {
	frame := make([]byte, replyHeaderLen+40)
	// status=0, msg_type=0, msg_len=100
	frame[8] = 100

	_, err := DecodeReply(frame)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestReplyTooShortForHeader(t *testing.T) {
	_, err := DecodeReply([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRequestTruncatedField(t *testing.T) {
	// cmd=AUTHENTICATE, upn_len says 100 but nothing follows.
	bad := []byte{1, 0, 0, 0, 100, 0, 0, 0}
	_, err := DecodeRequest(bad)
	require.ErrorIs(t, err, ErrTruncated)
}
