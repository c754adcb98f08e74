// Package wire implements the framed, length-prefixed messages exchanged
// between the backend and its de-privileged Kerberos helper child, and the
// pipe transport that carries them.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cmd identifies the outbound request kind, matching pamtypes.Command's
// wire encoding (AUTHENTICATE=1, CHAUTHTOK=2 — 0 is reserved/unused on the
// wire so a zeroed buffer is never mistaken for a valid frame).
type Cmd int32

const (
	CmdAuthenticate Cmd = 1
	CmdChauthtok    Cmd = 2
)

// Request is the parent-to-child frame (§3): cmd | upn_len | upn |
// authtok_len | authtok [| newauthtok_len | newauthtok]. The trailing pair
// is present iff Cmd == CmdChauthtok.
type Request struct {
	Cmd        Cmd
	UPN        string
	AuthTok    []byte
	NewAuthTok []byte // only meaningful (and only encoded) for CmdChauthtok
}

// ErrTruncated is returned when a child→parent frame's declared length
// doesn't match the bytes actually present.
var ErrTruncated = errors.New("wire: frame truncated")

// Encode serializes r into the little-endian, length-prefixed layout §3
// describes. For CmdAuthenticate this is exactly 4 fields; for
// CmdChauthtok, exactly 6 — the encoder enforces this by construction
// rather than trusting the caller to have set NewAuthTok correctly.
func (r Request) Encode() ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, r.Cmd); err != nil {
		return nil, fmt.Errorf("encode cmd: %w", err)
	}
	if err := writeLenPrefixed(&buf, []byte(r.UPN)); err != nil {
		return nil, fmt.Errorf("encode upn: %w", err)
	}
	if err := writeLenPrefixed(&buf, r.AuthTok); err != nil {
		return nil, fmt.Errorf("encode authtok: %w", err)
	}

	if r.Cmd == CmdChauthtok {
		if err := writeLenPrefixed(&buf, r.NewAuthTok); err != nil {
			return nil, fmt.Errorf("encode newauthtok: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// FieldCount returns how many length-prefixed fields this request encodes
// (4 for AUTHENTICATE, 6 for CHAUTHTOK — the cmd field plus two length+value
// pairs per token, per the testable invariant in spec §8.5), for tests that
// assert the frame shape directly.
func (r Request) FieldCount() int {
	if r.Cmd == CmdChauthtok {
		return 6
	}
	return 4
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

// DecodeRequest parses a Request back out of its wire encoding. It exists
// for the round-trip test in spec §8 and for the helper binary, which
// reads exactly this format off stdin.
func DecodeRequest(data []byte) (Request, error) {
	r := bytes.NewReader(data)

	var cmd Cmd
	if err := binary.Read(r, binary.LittleEndian, &cmd); err != nil {
		return Request{}, fmt.Errorf("decode cmd: %w", err)
	}

	upn, err := readLenPrefixed(r)
	if err != nil {
		return Request{}, fmt.Errorf("decode upn: %w", err)
	}

	authtok, err := readLenPrefixed(r)
	if err != nil {
		return Request{}, fmt.Errorf("decode authtok: %w", err)
	}

	req := Request{Cmd: cmd, UPN: string(upn), AuthTok: authtok}

	if cmd == CmdChauthtok {
		newtok, err := readLenPrefixed(r)
		if err != nil {
			return Request{}, fmt.Errorf("decode newauthtok: %w", err)
		}
		req.NewAuthTok = newtok
	}

	return req, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || int(n) > r.Len() {
		return nil, ErrTruncated
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Reply is the child-to-parent frame (§3): status | msg_type | msg_len |
// payload.
type Reply struct {
	Status  int32
	MsgType int32
	Payload []byte
}

// replyHeaderLen is the fixed 3*int32 prefix (status, msg_type, msg_len).
const replyHeaderLen = 12

// Encode serializes a Reply for the helper binary to write to stdout.
func (r Reply) Encode() []byte {
	buf := make([]byte, replyHeaderLen+len(r.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Status))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.MsgType))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(r.Payload)))
	copy(buf[12:], r.Payload)
	return buf
}

// DecodeReply parses a child's reply frame, enforcing the self-consistency
// rule from §4.3: reject if len < 12 (can't even hold the header... in
// practice data itself must be at least 12 bytes) or if 12+msg_len != len(data).
func DecodeReply(data []byte) (Reply, error) {
	if len(data) < replyHeaderLen {
		return Reply{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, len(data), replyHeaderLen)
	}

	status := int32(binary.LittleEndian.Uint32(data[0:4]))
	msgType := int32(binary.LittleEndian.Uint32(data[4:8]))
	msgLen := int32(binary.LittleEndian.Uint32(data[8:12]))

	if msgLen < 0 || replyHeaderLen+int(msgLen) != len(data) {
		return Reply{}, fmt.Errorf("%w: header declares %d byte payload, frame is %d bytes", ErrTruncated, msgLen, len(data))
	}

	payload := make([]byte, msgLen)
	copy(payload, data[replyHeaderLen:])

	return Reply{Status: status, MsgType: msgType, Payload: payload}, nil
}
