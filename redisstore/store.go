// Package redisstore keeps accounts in Redis. Every conditional write runs
// as a Lua script so the refresh counter check and increment are atomic
// across service instances.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-session-auth"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store
const DefaultPrefix = "sessions"

// Store implements auth.AccountStore on a Redis client
type Store struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ auth.AccountStore = (*Store)(nil)

// New returns a store writing keys under prefix
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		redis:  client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *Store) accountKey(subjectKey string) string {
	return s.prefix + ":account:" + subjectKey
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + email
}

func (s *Store) idKey(id uuid.UUID) string {
	return s.prefix + ":id:" + id.String()
}

// FetchByKey returns the account only while its counter equals
// expectedCounter
func (s *Store) FetchByKey(ctx context.Context, subjectKey string, expectedCounter int) (*auth.Account, error) {
	account, err := s.load(ctx, subjectKey)
	if err != nil {
		return nil, err
	}

	if account.RefreshCounter != expectedCounter {
		return nil, auth.ErrAccountNotFound.Clone().WithMetadata(map[string]any{
			"subject_key": subjectKey,
		})
	}

	return account, nil
}

// FetchByEmail resolves the email index and loads the account
func (s *Store) FetchByEmail(ctx context.Context, email string) (*auth.Account, error) {
	subjectKey, err := s.redis.Get(ctx, s.emailKey(auth.NormalizeEmail(email))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrAccountNotFound.Clone()
		}
		return nil, unavailable(err)
	}
	return s.load(ctx, subjectKey)
}

// Create writes the account and its indexes if neither the email nor the
// subject key are taken
func (s *Store) Create(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	now := s.now()

	created := *account
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	if created.SubjectKey == "" {
		created.SubjectKey = uuid.NewString()
	}
	created.Email = auth.NormalizeEmail(created.Email)
	created.CreatedAt = &now
	created.UpdatedAt = &now

	res, err := createAccountLua.Run(ctx, s.redis,
		[]string{s.emailKey(created.Email), s.accountKey(created.SubjectKey), s.idKey(created.ID)},
		created.SubjectKey,
		created.ID.String(),
		created.Email,
		created.PasswordHash,
		boolFlag(created.Confirmed),
		created.RefreshCounter,
		now.Unix(),
	).Int64()
	if err != nil {
		return nil, unavailable(err)
	}

	if res != statusApplied {
		return nil, auth.ErrAccountExists.Clone()
	}

	return &created, nil
}

// UpdateConfirmed sets the confirmed flag once
func (s *Store) UpdateConfirmed(ctx context.Context, id uuid.UUID) error {
	key, err := s.accountKeyByID(ctx, id)
	if err != nil {
		return err
	}

	res, err := confirmAccountLua.Run(ctx, s.redis, []string{key}, s.now().Unix()).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch res {
	case statusApplied:
		return nil
	case statusRejected:
		return auth.ErrAlreadyConfirmed.Clone().WithMetadata(map[string]any{"id": id.String()})
	default:
		return auth.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}
}

// UpdateHashedPassword replaces the password hash
func (s *Store) UpdateHashedPassword(ctx context.Context, id uuid.UUID, hash string) error {
	key, err := s.accountKeyByID(ctx, id)
	if err != nil {
		return err
	}

	res, err := updatePasswordLua.Run(ctx, s.redis, []string{key}, hash, s.now().Unix()).Int64()
	if err != nil {
		return unavailable(err)
	}

	if res != statusApplied {
		return auth.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

// IncrementCounterIfMatches compares and increments the counter in one
// script call
func (s *Store) IncrementCounterIfMatches(ctx context.Context, id uuid.UUID, expected int) error {
	key, err := s.accountKeyByID(ctx, id)
	if err != nil {
		if auth.HasTextCode(err, auth.TextCodeAccountNotFound) {
			return auth.ErrCounterMismatch.Clone().WithMetadata(map[string]any{"id": id.String()})
		}
		return err
	}

	res, err := incrementCounterLua.Run(ctx, s.redis, []string{key}, expected, s.now().Unix()).Int64()
	if err != nil {
		return unavailable(err)
	}

	if res != statusApplied {
		return auth.ErrCounterMismatch.Clone().WithMetadata(map[string]any{
			"id":       id.String(),
			"expected": expected,
		})
	}

	return nil
}

func (s *Store) accountKeyByID(ctx context.Context, id uuid.UUID) (string, error) {
	subjectKey, err := s.redis.Get(ctx, s.idKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", auth.ErrAccountNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
		}
		return "", unavailable(err)
	}
	return s.accountKey(subjectKey), nil
}

func (s *Store) load(ctx context.Context, subjectKey string) (*auth.Account, error) {
	fields, err := s.redis.HGetAll(ctx, s.accountKey(subjectKey)).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	if len(fields) == 0 {
		return nil, auth.ErrAccountNotFound.Clone().WithMetadata(map[string]any{
			"subject_key": subjectKey,
		})
	}

	return decodeAccount(fields)
}

func decodeAccount(fields map[string]string) (*auth.Account, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return nil, corrupt(err, fields["subject_key"])
	}

	counter, err := strconv.Atoi(fields["refresh_counter"])
	if err != nil {
		return nil, corrupt(err, fields["subject_key"])
	}

	account := &auth.Account{
		ID:             id,
		SubjectKey:     fields["subject_key"],
		Email:          fields["email"],
		PasswordHash:   fields["password_hash"],
		Confirmed:      fields["confirmed"] == "1",
		RefreshCounter: counter,
		CreatedAt:      unixTime(fields["created_at"]),
		UpdatedAt:      unixTime(fields["updated_at"]),
	}

	return account, nil
}

func unixTime(v string) *time.Time {
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(sec, 0)
	return &t
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func unavailable(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "redis unavailable").
		WithCode(503).
		WithTextCode(auth.TextCodeStoreUnavailable)
}

func corrupt(err error, subjectKey string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "corrupt account record").
		WithCode(goerrors.CodeInternal).
		WithTextCode(auth.TextCodeInternal).
		WithMetadata(map[string]any{"subject_key": subjectKey})
}
