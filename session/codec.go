package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const formatVersion = 1

// MaxFieldLen caps every string field a session record can carry; field
// lengths travel as a single byte.
const MaxFieldLen = 255

// Clip truncates free-form metadata, such as a User-Agent header, to the
// codec's field limit.
func Clip(s string) string {
	if len(s) > MaxFieldLen {
		return s[:MaxFieldLen]
	}
	return s
}

const (
	flagActive     = 1 << 0
	flagRememberMe = 1 << 1
)

// Encode serializes a session into the compact binary record stored in
// Redis. The session ID itself is the Redis key and is not encoded.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(formatVersion)

	var flags byte
	if s.Active {
		flags |= flagActive
	}
	if s.RememberMe {
		flags |= flagRememberMe
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(s.LogoutReason))

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LastActivityAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{s.PrincipalID, s.Fingerprint, s.IP, s.UserAgent, s.Location} {
		if len(field) > MaxFieldLen {
			return nil, errors.New("session field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

// Decode parses a binary session record produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Active = flags&flagActive != 0
	s.RememberMe = flags&flagRememberMe != 0

	reason, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.LogoutReason = LogoutReason(reason)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.LastActivityAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&s.PrincipalID, &s.Fingerprint, &s.IP, &s.UserAgent, &s.Location} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*dst = string(field)
	}

	return s, nil
}
