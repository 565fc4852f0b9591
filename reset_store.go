package identio

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tamrel/identio/internal"
)

// tokenPurpose separates password-reset tokens from email-verification
// tokens. A token redeemed under the wrong purpose is treated as unknown.
type tokenPurpose byte

const (
	purposePasswordReset tokenPurpose = 1
	purposeEmailVerify   tokenPurpose = 2
)

const (
	resetRecordPrefix  = "irt"
	resetPointerPrefix = "irp"
	resetRecordVersion = 1
)

var (
	errResetNotFound    = errors.New("reset token not found")
	errResetUnavailable = errors.New("reset store unavailable")
)

// resetRecord is the server-side half of a single-use token. Only the
// sha256 of the secret is stored; the redeemable token never touches Redis.
type resetRecord struct {
	UserID     string
	Email      string
	SecretHash [32]byte
	ExpiresAt  int64
	Purpose    tokenPurpose
}

// resetTokenStore issues and redeems single-use opaque tokens. Issuing a new
// token for the same email and purpose supersedes the previous one: its
// record is removed, so redeeming it fails like any unknown token.
type resetTokenStore struct {
	redis redis.UniversalClient
}

func newResetTokenStore(redisClient redis.UniversalClient) *resetTokenStore {
	return &resetTokenStore{redis: redisClient}
}

func (s *resetTokenStore) recordKey(purpose tokenPurpose, id string) string {
	return fmt.Sprintf("%s:%d:%s", resetRecordPrefix, purpose, id)
}

func (s *resetTokenStore) pointerKey(purpose tokenPurpose, email string) string {
	return fmt.Sprintf("%s:%d:%s", resetPointerPrefix, purpose, strings.ToLower(email))
}

// Issue mints a token for userID/email, replacing any live token of the
// same purpose for that email.
func (s *resetTokenStore) Issue(
	ctx context.Context,
	purpose tokenPurpose,
	userID, email string,
	ttl time.Duration,
) (string, error) {
	id, err := internal.NewID()
	if err != nil {
		return "", err
	}
	secret, err := internal.NewSecret()
	if err != nil {
		return "", err
	}

	record := &resetRecord{
		UserID:     userID,
		Email:      email,
		SecretHash: internal.HashSecret(secret),
		ExpiresAt:  time.Now().Add(ttl).Unix(),
		Purpose:    purpose,
	}
	encoded, err := encodeResetRecord(record)
	if err != nil {
		return "", err
	}

	pointerKey := s.pointerKey(purpose, email)
	recordKey := s.recordKey(purpose, id.String())

	// The pointer read and the supersede write must be one atomic step, or
	// two concurrent issues would each miss the other's record and leave
	// both tokens live. Same WATCH pattern as Redeem.
	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previous != "" {
					pipe.Del(ctx, s.recordKey(purpose, previous))
				}
				pipe.Set(ctx, recordKey, encoded, ttl)
				pipe.Set(ctx, pointerKey, id.String(), ttl)
				return nil
			})
			return err
		}, pointerKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", errResetUnavailable, err)
		}

		return internal.EncodeOpaqueToken(id.String(), secret)
	}

	return "", fmt.Errorf("%w: %v", errResetUnavailable, redis.TxFailedErr)
}

// Redeem consumes the token exactly once. Concurrent redemptions of the
// same token race on a WATCH; one wins, the rest see errResetNotFound.
// Unknown, expired, superseded and wrong-purpose tokens all fail the same
// way.
func (s *resetTokenStore) Redeem(ctx context.Context, purpose tokenPurpose, token string) (*resetRecord, error) {
	id, secret, err := internal.DecodeOpaqueToken(token)
	if err != nil {
		return nil, errResetNotFound
	}
	providedHash := internal.HashSecret(secret)

	const maxRetries = 4
	recordKey := s.recordKey(purpose, id)

	for i := 0; i < maxRetries; i++ {
		var matched *resetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, recordKey).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, recordKey)
					return nil
				})
				if err != nil {
					return err
				}
				return errResetNotFound
			}

			if record.Purpose != purpose {
				return errResetNotFound
			}
			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				return errResetNotFound
			}

			pointerKey := s.pointerKey(purpose, record.Email)
			current, err := tx.Get(ctx, pointerKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, recordKey)
				if current == id {
					pipe.Del(ctx, pointerKey)
				}
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, recordKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errResetNotFound):
				return nil, errResetNotFound
			default:
				return nil, fmt.Errorf("%w: %v", errResetUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errResetNotFound
}

func encodeResetRecord(record *resetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersion)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 || len(record.Email) > 65535 {
		return nil, errors.New("reset record field too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeResetRecord(data []byte) (*resetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersion {
		return nil, errors.New("invalid reset record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record := &resetRecord{Purpose: tokenPurpose(purpose)}

	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
