package trees

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/keyspace"
	"github.com/lalith-99/harmonyhost/internal/storage"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SessionTokenLength is fixed by spec.md §8 invariant 5.
const SessionTokenLength = 22

// AuthTree owns the `auth` tree: sessions, password hashes, the email
// index, and single-use registration tokens. It never touches the
// in-memory session map (internal/session) — that's the fast path; this
// is the tree the session map is rebuilt from at startup.
type AuthTree struct {
	tree   storage.Tree
	logger *zap.Logger
}

func NewAuthTree(tree storage.Tree, logger *zap.Logger) *AuthTree {
	return &AuthTree{tree: tree, logger: logger}
}

// GenerateSessionToken returns a fresh SessionTokenLength-byte alphanumeric
// token. Generation never collides in practice (62^22 possibilities), but
// callers that want the collision-checked guarantee spec.md §4.7 describes
// for the auth flow wizard should retry against internal/session's map.
func GenerateSessionToken() (string, error) {
	return randAlphanumeric(SessionTokenLength)
}

func randAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out), nil
}

// PutSession writes the token and marks the user active now, in one
// batch — a session is only ever durable with both halves present.
func (a *AuthTree) PutSession(ctx context.Context, userID uint64, token string) error {
	var batch storage.Batch
	batch.Insert(keyspace.TokenKey(userID), []byte(token))
	batch.Insert(keyspace.AtimeKey(userID), atimeBytes(time.Now()))
	if err := a.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// TouchAtime bumps a user's last-active timestamp; internal/session calls
// this on every authenticated request so the 48-hour inactivity window
// (spec.md §3) resets on use.
func (a *AuthTree) TouchAtime(ctx context.Context, userID uint64, at time.Time) error {
	if _, err := a.tree.Insert(ctx, keyspace.AtimeKey(userID), atimeBytes(at)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// SessionToken reads the durable token for userID, so a caller deleting
// an account can also drop that token from the in-memory session map
// (the startup rebuild reads every token through AllSessions instead).
func (a *AuthTree) SessionToken(ctx context.Context, userID uint64) (string, bool, error) {
	raw, err := a.tree.Get(ctx, keyspace.TokenKey(userID))
	if err != nil {
		return "", false, herror.Internal(err)
	}
	if raw == nil {
		return "", false, nil
	}
	return string(raw), true, nil
}

func (a *AuthTree) LastActive(ctx context.Context, userID uint64) (time.Time, bool, error) {
	raw, err := a.tree.Get(ctx, keyspace.AtimeKey(userID))
	if err != nil {
		return time.Time{}, false, herror.Internal(err)
	}
	if raw == nil {
		return time.Time{}, false, nil
	}
	return parseAtime(raw), true, nil
}

// RevokeSession removes a user's durable session token, last-active
// marker, and password hash, so a deleted account can never log back in
// by replaying a still-valid token (spec.md §4.7 "delete_user").
func (a *AuthTree) RevokeSession(ctx context.Context, userID uint64) error {
	var batch storage.Batch
	batch.Remove(keyspace.TokenKey(userID))
	batch.Remove(keyspace.AtimeKey(userID))
	batch.Remove(keyspace.PasswordHashKey(userID))
	if err := a.tree.ApplyBatch(ctx, &batch); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// AllSessions scans every token_ entry for internal/session's startup
// rebuild (spec.md §4.7: "in-memory session map rebuilt from persisted
// token_/atime_ keys at startup").
func (a *AuthTree) AllSessions(ctx context.Context) (map[uint64]string, error) {
	entries, err := a.tree.ScanPrefix(ctx, []byte("token_"))
	if err != nil {
		return nil, herror.Internal(err)
	}
	out := make(map[uint64]string, len(entries))
	for _, e := range entries {
		userID := keyspace.DecodeU64(e.Key[len("token_"):])
		out[userID] = string(e.Value)
	}
	return out, nil
}

func atimeBytes(t time.Time) []byte {
	return encodeBigEndianU64(uint64(t.Unix()))
}

func parseAtime(raw []byte) time.Time {
	return time.Unix(int64(keyspace.DecodeU64(raw)), 0).UTC()
}

// IndexEmail records the email -> user id mapping used by
// GetUserIDByEmail; called once at registration, never updated (emails
// are immutable in this model, matching spec.md's silence on email
// changes).
func (a *AuthTree) IndexEmail(ctx context.Context, email string, userID uint64) error {
	if _, err := a.tree.Insert(ctx, keyspace.EmailKey(email), encodeBigEndianU64(userID)); err != nil {
		return herror.Internal(err)
	}
	return nil
}

func (a *AuthTree) GetUserIDByEmail(ctx context.Context, email string) (uint64, bool, error) {
	raw, err := a.tree.Get(ctx, keyspace.EmailKey(email))
	if err != nil {
		return 0, false, herror.Internal(err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return keyspace.DecodeU64(raw), true, nil
}

// SetPassword hashes and stores a new password for userID.
func (a *AuthTree) SetPassword(ctx context.Context, userID uint64, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return herror.Internal(err)
	}
	if _, err := a.tree.Insert(ctx, keyspace.PasswordHashKey(userID), hash); err != nil {
		return herror.Internal(err)
	}
	return nil
}

// CheckPassword reports whether candidate matches userID's stored hash.
// A missing hash (e.g. a federation-only user with no local password) is
// always a mismatch, never an internal error.
func (a *AuthTree) CheckPassword(ctx context.Context, userID uint64, candidate string) (bool, error) {
	hash, err := a.tree.Get(ctx, keyspace.PasswordHashKey(userID))
	if err != nil {
		return false, herror.Internal(err)
	}
	if hash == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(candidate)) == nil, nil
}

// GenerateSingleUseToken issues a registration token and records only its
// hash, the same "store a hash, never the secret" shape the original's
// registration-token table uses.
func (a *AuthTree) GenerateSingleUseToken(ctx context.Context) (string, error) {
	token, err := randAlphanumeric(32)
	if err != nil {
		return "", herror.Internal(err)
	}
	if _, err := a.tree.Insert(ctx, keyspace.RegistrationTokenKey(hashToken(token)), []byte{}); err != nil {
		return "", herror.Internal(err)
	}
	return token, nil
}

// ValidateSingleUseToken atomically consumes token: a second call with the
// same token always fails (spec.md §8 "Single-use registration tokens").
func (a *AuthTree) ValidateSingleUseToken(ctx context.Context, token string) error {
	key := keyspace.RegistrationTokenKey(hashToken(token))
	prev, err := a.tree.Remove(ctx, key)
	if err != nil {
		return herror.Internal(err)
	}
	if prev == nil {
		return herror.ErrInvalidRegistrationToken
	}
	return nil
}

// IssuePasswordResetToken records a single-use token bound to userID,
// distinct from a registration token so the two can never be swapped.
func (a *AuthTree) IssuePasswordResetToken(ctx context.Context, userID uint64) (string, error) {
	token, err := randAlphanumeric(32)
	if err != nil {
		return "", herror.Internal(err)
	}
	if _, err := a.tree.Insert(ctx, keyspace.PasswordResetTokenKey(hashToken(token)), encodeBigEndianU64(userID)); err != nil {
		return "", herror.Internal(err)
	}
	return token, nil
}

// ConsumePasswordResetToken atomically validates and removes token,
// returning the user id it was issued for.
func (a *AuthTree) ConsumePasswordResetToken(ctx context.Context, token string) (uint64, error) {
	key := keyspace.PasswordResetTokenKey(hashToken(token))
	prev, err := a.tree.Remove(ctx, key)
	if err != nil {
		return 0, herror.Internal(err)
	}
	if prev == nil {
		return 0, herror.ErrInvalidRegistrationToken
	}
	return keyspace.DecodeU64(prev), nil
}

func hashToken(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return sum[:]
}

func encodeBigEndianU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
