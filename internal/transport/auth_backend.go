package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/models"
	"github.com/lalith-99/harmonyhost/internal/session"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

// AuthBackend wires authflow.Backend to the durable trees and the live
// session map, the same role the source's AuthServer impl plays between
// its auth state machine and its sled trees.
type AuthBackend struct {
	auth            *trees.AuthTree
	profiles        *trees.ProfileTree
	sessions        *session.Map
	requireRegToken bool
	logger          *zap.Logger
}

func NewAuthBackend(auth *trees.AuthTree, profiles *trees.ProfileTree, sessions *session.Map, requireRegToken bool, logger *zap.Logger) *AuthBackend {
	return &AuthBackend{auth: auth, profiles: profiles, sessions: sessions, requireRegToken: requireRegToken, logger: logger}
}

func (b *AuthBackend) GetUserIDByEmail(ctx context.Context, email string) (uint64, bool, error) {
	return b.auth.GetUserIDByEmail(ctx, email)
}

func (b *AuthBackend) CheckPassword(ctx context.Context, userID uint64, password string) (bool, error) {
	return b.auth.CheckPassword(ctx, userID, password)
}

func (b *AuthBackend) CreateUser(ctx context.Context, email, username, password string) (uint64, error) {
	if _, found, err := b.auth.GetUserIDByEmail(ctx, email); err != nil {
		return 0, err
	} else if found {
		return 0, herror.ErrUserAlreadyExists
	}

	userID, err := b.profiles.NextUserID(ctx)
	if err != nil {
		return 0, err
	}
	if err := b.profiles.CreateProfile(ctx, &models.Profile{UserID: userID, Username: username}); err != nil {
		return 0, err
	}
	if err := b.auth.IndexEmail(ctx, email, userID); err != nil {
		return 0, err
	}
	if err := b.auth.SetPassword(ctx, userID, password); err != nil {
		return 0, err
	}
	return userID, nil
}

func (b *AuthBackend) ValidateSingleUseToken(ctx context.Context, token string) error {
	return b.auth.ValidateSingleUseToken(ctx, token)
}

func (b *AuthBackend) RegistrationRequiresToken(ctx context.Context) bool {
	return b.requireRegToken
}

func (b *AuthBackend) MintSession(ctx context.Context, userID uint64) (string, error) {
	token, err := trees.GenerateSessionToken()
	if err != nil {
		return "", herror.Internal(err)
	}
	if err := b.sessions.Put(ctx, userID, token); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword issues a single-use token for email and logs it, standing
// in for the mail-delivery side channel the source pushes this through
// (impls/auth/mod.rs step_login's "reset password" branch) — nothing in
// this codebase sends real email yet.
func (b *AuthBackend) ResetPassword(ctx context.Context, email string) error {
	userID, found, err := b.auth.GetUserIDByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !found {
		return herror.ErrUserNotFound
	}
	token, err := b.auth.IssuePasswordResetToken(ctx, userID)
	if err != nil {
		return err
	}
	b.logger.Info("password reset token issued",
		zap.Uint64("user_id", userID),
		zap.String("token", token),
	)
	return nil
}

func (b *AuthBackend) SubmitPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	userID, err := b.auth.ConsumePasswordResetToken(ctx, resetToken)
	if err != nil {
		return err
	}
	return b.auth.SetPassword(ctx, userID, newPassword)
}

// DeleteUser removes a local account's credentials and session, leaving
// its profile and guild memberships in place — the source's analogous
// operation (impls/auth delete-user branch) is similarly narrow in scope,
// never cascading into chat data.
func (b *AuthBackend) DeleteUser(ctx context.Context, userID uint64) error {
	if token, ok, err := b.auth.SessionToken(ctx, userID); err != nil {
		return err
	} else if ok {
		b.sessions.Revoke(token)
	}
	return b.auth.RevokeSession(ctx, userID)
}
