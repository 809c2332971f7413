package authflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
)

type fakeBackend struct {
	users           map[string]uint64 // email -> user id
	passwords       map[uint64]string
	requiresToken   bool
	validTokens     map[string]bool
	nextID          uint64
	sessions        map[uint64]string
	deleted         map[uint64]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:       map[string]uint64{},
		passwords:   map[uint64]string{},
		validTokens: map[string]bool{},
		sessions:    map[uint64]string{},
		deleted:     map[uint64]bool{},
	}
}

func (f *fakeBackend) GetUserIDByEmail(_ context.Context, email string) (uint64, bool, error) {
	id, ok := f.users[email]
	return id, ok, nil
}

func (f *fakeBackend) CheckPassword(_ context.Context, userID uint64, password string) (bool, error) {
	return f.passwords[userID] == password, nil
}

func (f *fakeBackend) CreateUser(_ context.Context, email, _ string, password string) (uint64, error) {
	f.nextID++
	f.users[email] = f.nextID
	f.passwords[f.nextID] = password
	return f.nextID, nil
}

func (f *fakeBackend) ValidateSingleUseToken(_ context.Context, token string) error {
	if !f.validTokens[token] {
		return herror.ErrInvalidRegistrationToken
	}
	delete(f.validTokens, token)
	return nil
}

func (f *fakeBackend) RegistrationRequiresToken(context.Context) bool { return f.requiresToken }

func (f *fakeBackend) MintSession(_ context.Context, userID uint64) (string, error) {
	token := "token-for-" + string(rune('a'+userID))
	f.sessions[userID] = token
	return token, nil
}

func (f *fakeBackend) ResetPassword(context.Context, string) error { return nil }

func (f *fakeBackend) SubmitPasswordReset(_ context.Context, _, newPassword string) error {
	return nil
}

func (f *fakeBackend) DeleteUser(_ context.Context, userID uint64) error {
	f.deleted[userID] = true
	return nil
}

func TestBeginAuthStartsAtChoiceStep(t *testing.T) {
	flow := New(newFakeBackend(), zap.NewNop())
	id, step, err := flow.BeginAuth()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, StepChoice, step.Kind)
	assert.Contains(t, step.Choice, "login")
	assert.Contains(t, step.Choice, "register")
}

func TestLoginHappyPathMintsSession(t *testing.T) {
	backend := newFakeBackend()
	backend.users["a@example.com"] = 1
	backend.passwords[1] = "hunter2"
	flow := New(backend, zap.NewNop())

	id, _, err := flow.BeginAuth()
	require.NoError(t, err)

	form, err := flow.NextStep(context.Background(), id, Reply{Choice: "login"})
	require.NoError(t, err)
	require.Equal(t, StepForm, form.Kind)

	result, err := flow.NextStep(context.Background(), id, Reply{Fields: map[string]string{
		"email": "a@example.com", "password": "hunter2",
	}})
	require.NoError(t, err)
	require.Equal(t, StepSessionResult, result.Kind)
	assert.EqualValues(t, 1, result.Session.UserID)
}

func TestLoginWrongPasswordFails(t *testing.T) {
	backend := newFakeBackend()
	backend.users["a@example.com"] = 1
	backend.passwords[1] = "hunter2"
	flow := New(backend, zap.NewNop())

	id, _, _ := flow.BeginAuth()
	_, err := flow.NextStep(context.Background(), id, Reply{Choice: "login"})
	require.NoError(t, err)

	_, err = flow.NextStep(context.Background(), id, Reply{Fields: map[string]string{
		"email": "a@example.com", "password": "wrong",
	}})
	assert.ErrorIs(t, err, herror.ErrWrongCredentials)
}

func TestRegisterRequiresValidTokenWhenConfigured(t *testing.T) {
	backend := newFakeBackend()
	backend.requiresToken = true
	backend.validTokens["good-token"] = true
	flow := New(backend, zap.NewNop())

	id, _, _ := flow.BeginAuth()
	form, err := flow.NextStep(context.Background(), id, Reply{Choice: "register"})
	require.NoError(t, err)
	names := fieldNames(form.Fields)
	assert.Contains(t, names, "registration_token")

	_, err = flow.NextStep(context.Background(), id, Reply{Fields: map[string]string{
		"email": "b@example.com", "username": "bee", "password": "pw123456",
		"registration_token": "bad-token",
	}})
	assert.ErrorIs(t, err, herror.ErrInvalidRegistrationToken)

	result, err := flow.NextStep(context.Background(), id, Reply{Fields: map[string]string{
		"email": "b@example.com", "username": "bee", "password": "pw123456",
		"registration_token": "good-token",
	}})
	require.NoError(t, err)
	assert.Equal(t, StepSessionResult, result.Kind)
}

func TestStepBackReturnsToPriorStep(t *testing.T) {
	flow := New(newFakeBackend(), zap.NewNop())
	id, _, _ := flow.BeginAuth()
	_, err := flow.NextStep(context.Background(), id, Reply{Choice: "login"})
	require.NoError(t, err)

	back, err := flow.StepBack(id)
	require.NoError(t, err)
	assert.Equal(t, StepChoice, back.Kind)
}

func TestStepBackRejectedAtRootStep(t *testing.T) {
	flow := New(newFakeBackend(), zap.NewNop())
	id, _, _ := flow.BeginAuth()
	_, err := flow.StepBack(id)
	assert.ErrorIs(t, err, herror.ErrWrongStep)
}

func TestUnknownAuthIDIsBadSession(t *testing.T) {
	flow := New(newFakeBackend(), zap.NewNop())
	_, err := flow.NextStep(context.Background(), "does-not-exist", Reply{Choice: "login"})
	assert.ErrorIs(t, err, herror.ErrBadSession)
}

func TestAttachStreamFlushesQueuedSteps(t *testing.T) {
	flow := New(newFakeBackend(), zap.NewNop())
	id, _, _ := flow.BeginAuth()

	_, err := flow.NextStep(context.Background(), id, Reply{Choice: "login"})
	require.NoError(t, err)

	ch, err := flow.AttachStream(id)
	require.NoError(t, err)

	select {
	case step := <-ch:
		assert.Equal(t, StepForm, step.Kind)
	default:
		t.Fatal("expected the login form step queued before attach to be flushed immediately")
	}
}

func TestDeleteUserFlowAuthenticatesThenDeletes(t *testing.T) {
	backend := newFakeBackend()
	backend.users["c@example.com"] = 9
	backend.passwords[9] = "pw"
	flow := New(backend, zap.NewNop())

	id, _, _ := flow.BeginAuth()
	_, err := flow.NextStep(context.Background(), id, Reply{Choice: "other-options"})
	require.NoError(t, err)
	_, err = flow.NextStep(context.Background(), id, Reply{Choice: "delete-user-send"})
	require.NoError(t, err)
	confirm, err := flow.NextStep(context.Background(), id, Reply{Fields: map[string]string{
		"email": "c@example.com", "password": "pw",
	}})
	require.NoError(t, err)
	require.Equal(t, StepChoice, confirm.Kind)

	result, err := flow.NextStep(context.Background(), id, Reply{Choice: "delete-user-submit"})
	require.NoError(t, err)
	assert.Equal(t, StepChoice, result.Kind)
	assert.True(t, backend.deleted[9])
}

func fieldNames(fields []FormField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
