package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const mfaChallengeRecordVersion1 = 1

var (
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")
	ErrMFAChallengeExpired  = errors.New("mfa challenge expired")
	ErrMFAChallengeExists   = errors.New("mfa challenge id collision")
	ErrMFAChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// MFAChallenge is the ephemeral step-up record created when a password
// check succeeds but a second factor is still outstanding. It pins the
// original request context so the completing call issues the session the
// first call asked for.
type MFAChallenge struct {
	PrincipalID string
	IP          string
	UserAgent   string
	Fingerprint string
	RememberMe  bool
	ExpiresAt   int64
	Attempts    uint16
}

// MFAChallengeStore persists challenges in Redis with a short TTL.
// Creation uses set-if-absent so a challenge id can never be silently
// overwritten; consumption is a single DEL whose reply says whether this
// caller was the one that consumed it.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFAChallengeStore(redisClient redis.UniversalClient, prefix string) *MFAChallengeStore {
	if prefix == "" {
		prefix = "mc"
	}
	return &MFAChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MFAChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *MFAChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *MFAChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeMFAChallenge(record)
	if err != nil {
		return err
	}
	created, err := s.redis.SetNX(ctx, s.key(challengeID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}
	if !created {
		return ErrMFAChallengeExists
	}
	return nil
}

func (s *MFAChallengeStore) Get(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMFAChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}

	record, err := decodeMFAChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrMFAChallengeExpired
	}
	return record, nil
}

// Consume deletes the challenge. The boolean reports whether this call
// performed the delete; false means another verification got there first
// and the challenge must be treated as already used.
func (s *MFAChallengeStore) Consume(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under optimistic locking.
// Returns true when maxAttempts is reached, in which case the challenge
// is deleted.
func (s *MFAChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeMFAChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMFAChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrMFAChallengeExpired
			}

			updated, err := encodeMFAChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrMFAChallengeNotFound
			}
			if errors.Is(err, ErrMFAChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrMFAChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrMFAChallengeNotFound
}

func encodeMFAChallenge(record *MFAChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaChallengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	var flags uint8
	if record.RememberMe {
		flags |= 1
	}
	buf.WriteByte(flags)

	for _, field := range []string{record.PrincipalID, record.IP, record.UserAgent, record.Fingerprint} {
		if len(field) > 65535 {
			return nil, errors.New("mfa challenge field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeMFAChallenge(data []byte) (*MFAChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != mfaChallengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &MFAChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.RememberMe = flags&1 != 0

	fields := make([]string, 4)
	for i := range fields {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		raw := make([]byte, length)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.PrincipalID = fields[0]
	record.IP = fields[1]
	record.UserAgent = fields[2]
	record.Fingerprint = fields[3]

	return record, nil
}
