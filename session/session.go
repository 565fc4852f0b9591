// Package session tracks the server-side record of every issued bearer
// credential. A session is revocable independently of the token's
// cryptographic validity; the registry is what turns a stateless signed
// token into a credential that can actually be killed.
package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// Session is one issued credential. SessionID is independent of the token
// value, so sessions can be enumerated and revoked without exposing or
// re-parsing tokens.
type Session struct {
	SessionID string
	UserID    string
	UserAgent string
	IP        string
	IssuedAt  int64
	ExpiresAt int64
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

const recordVersion = 1

var errCorruptRecord = errors.New("session: corrupt record")

// Encode serializes a session into the compact binary blob stored in Redis.
// SessionID is the storage key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersion)
	for _, field := range []string{s.UserID, s.UserAgent, s.IP} {
		if len(field) > 255 {
			return nil, errors.New("session: field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}
	if err := binary.Write(&buf, binary.BigEndian, s.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode reverses Encode. The caller restores SessionID from the key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordVersion {
		return nil, errCorruptRecord
	}

	s := &Session{}
	for _, field := range []*string{&s.UserID, &s.UserAgent, &s.IP} {
		length, err := reader.ReadByte()
		if err != nil {
			return nil, errCorruptRecord
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, errCorruptRecord
		}
		*field = string(raw)
	}
	if err := binary.Read(reader, binary.BigEndian, &s.IssuedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}

	return s, nil
}
