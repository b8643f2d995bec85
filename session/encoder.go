package session

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Record layout, version 2:
//
//	[0]      version
//	[1:9]    issued at, unix ms, big endian
//	[9:17]   expires at, unix ms, big endian
//	[17]     user id length n, 1..255
//	[18:18+n] user id
const (
	recordVersion = 2
	headerLen     = 18
	maxUserIDLen  = 255
)

var errBadRecord = errors.New("malformed session record")

// Encode serializes s into the current record format.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	n := len(s.UserID)
	if n == 0 || n > maxUserIDLen {
		return nil, fmt.Errorf("session user id length %d out of range", n)
	}

	out := make([]byte, 0, headerLen+n)
	out = append(out, recordVersion)
	out = binary.BigEndian.AppendUint64(out, uint64(s.IssuedAt))
	out = binary.BigEndian.AppendUint64(out, uint64(s.ExpiresAt))
	out = append(out, byte(n))
	return append(out, s.UserID...), nil
}

// Decode parses a record produced by Encode. The length must match exactly.
func Decode(data []byte) (*Session, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes", errBadRecord, len(data))
	}
	if data[0] != recordVersion {
		return nil, fmt.Errorf("%w: version %d", errBadRecord, data[0])
	}
	n := int(data[17])
	if n == 0 || len(data) != headerLen+n {
		return nil, fmt.Errorf("%w: user id length %d in %d bytes", errBadRecord, n, len(data))
	}
	return &Session{
		IssuedAt:  int64(binary.BigEndian.Uint64(data[1:9])),
		ExpiresAt: int64(binary.BigEndian.Uint64(data[9:17])),
		UserID:    string(data[headerLen:]),
	}, nil
}
