// Package authflow is the resumable, server-driven auth wizard of
// spec.md §4.7. Each in-progress login/registration/account-action
// tracks a stack of steps keyed by a random auth id; the client POSTs a
// reply to the current step and the server pushes whatever comes next.
package authflow

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/herror"
	"github.com/lalith-99/harmonyhost/internal/models"
)

type StepKind int

const (
	StepChoice StepKind = iota
	StepForm
	StepSessionResult
)

type FieldType int

const (
	FieldEmail FieldType = iota
	FieldText
	FieldPassword
	FieldNewPassword
	FieldNumber
)

type FormField struct {
	Name string
	Type FieldType
}

// Step is one node the wizard can be sitting at. Exactly one of Choice/
// Form/Session is meaningful, selected by Kind — Go has no enum-carried
// payload, so this is the same "tagged struct" compromise models.Message
// makes for its content union.
type Step struct {
	Kind      StepKind
	Choice    []string
	FormTitle string
	Fields    []FormField
	Session   *models.Session
	CanGoBack bool
}

// Reply is what NextStep consumes: either a chosen option (for a Choice
// step) or a set of field values (for a Form step).
type Reply struct {
	Choice string
	Fields map[string]string
}

// Backend is every dependency the wizard's branch logic needs. Kept as
// an interface so authflow has no direct import of internal/trees.
type Backend interface {
	GetUserIDByEmail(ctx context.Context, email string) (uint64, bool, error)
	CheckPassword(ctx context.Context, userID uint64, password string) (bool, error)
	CreateUser(ctx context.Context, email, username, password string) (uint64, error)
	ValidateSingleUseToken(ctx context.Context, token string) error
	RegistrationRequiresToken(ctx context.Context) bool
	MintSession(ctx context.Context, userID uint64) (string, error)
	ResetPassword(ctx context.Context, email string) error
	SubmitPasswordReset(ctx context.Context, resetToken, newPassword string) error
	DeleteUser(ctx context.Context, userID uint64) error
}

type authState struct {
	stack  []Step
	userID uint64 // set once a delete-user or similar branch authenticates
	stream chan Step
	queued []Step
}

// Flow owns every in-progress auth id. One Flow per server instance,
// matching the source's single concurrent map of auth id -> step stack
// (spec.md §5 "Per-auth-id step stack").
type Flow struct {
	mu      sync.Mutex
	states  map[string]*authState
	backend Backend
	logger  *zap.Logger
}

func New(backend Backend, logger *zap.Logger) *Flow {
	return &Flow{states: make(map[string]*authState), backend: backend, logger: logger}
}

func newAuthID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// BeginAuth starts a new wizard and returns its id plus the initial
// Choice step.
func (f *Flow) BeginAuth() (string, Step, error) {
	id, err := newAuthID()
	if err != nil {
		return "", Step{}, herror.Internal(err)
	}
	initial := Step{Kind: StepChoice, Choice: []string{"login", "register", "other-options"}}

	f.mu.Lock()
	f.states[id] = &authState{stack: []Step{initial}}
	f.mu.Unlock()

	return id, initial, nil
}

func (f *Flow) currentStep(id string) (*authState, Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok || len(state.stack) == 0 {
		return nil, Step{}, herror.ErrBadSession
	}
	return state, state.stack[len(state.stack)-1], nil
}

// NextStep consumes reply against the current step and pushes whatever
// step comes next, publishing it to any attached StreamSteps socket.
func (f *Flow) NextStep(ctx context.Context, id string, reply Reply) (Step, error) {
	state, current, err := f.currentStep(id)
	if err != nil {
		return Step{}, err
	}

	var next Step
	switch current.Kind {
	case StepChoice:
		next, err = f.handleChoice(ctx, state, current, reply)
	case StepForm:
		next, err = f.handleForm(ctx, state, current, reply)
	default:
		return Step{}, herror.ErrWrongStep
	}
	if err != nil {
		return Step{}, err
	}

	f.mu.Lock()
	state.stack = append(state.stack, next)
	f.publishLocked(state, next)
	f.mu.Unlock()
	return next, nil
}

func (f *Flow) handleChoice(ctx context.Context, state *authState, current Step, reply Reply) (Step, error) {
	valid := false
	for _, opt := range current.Choice {
		if opt == reply.Choice {
			valid = true
			break
		}
	}
	if !valid {
		return Step{}, herror.ErrWrongFieldType
	}

	switch reply.Choice {
	case "login":
		return Step{Kind: StepForm, FormTitle: "login", CanGoBack: true, Fields: []FormField{
			{Name: "email", Type: FieldEmail},
			{Name: "password", Type: FieldPassword},
		}}, nil
	case "register":
		fields := []FormField{
			{Name: "email", Type: FieldEmail},
			{Name: "username", Type: FieldText},
			{Name: "password", Type: FieldNewPassword},
		}
		if f.backend.RegistrationRequiresToken(ctx) {
			fields = append(fields, FormField{Name: "registration_token", Type: FieldText})
		}
		return Step{Kind: StepForm, FormTitle: "register", CanGoBack: true, Fields: fields}, nil
	case "other-options":
		return Step{Kind: StepChoice, CanGoBack: true, Choice: []string{
			"password-reset-send", "password-reset-submit", "delete-user-send",
		}}, nil
	case "password-reset-send":
		return Step{Kind: StepForm, FormTitle: "password-reset-send", CanGoBack: true, Fields: []FormField{
			{Name: "email", Type: FieldEmail},
		}}, nil
	case "password-reset-submit":
		return Step{Kind: StepForm, FormTitle: "password-reset-submit", CanGoBack: true, Fields: []FormField{
			{Name: "reset_token", Type: FieldText},
			{Name: "new_password", Type: FieldNewPassword},
		}}, nil
	case "delete-user-send":
		return Step{Kind: StepForm, FormTitle: "delete-user-send", CanGoBack: true, Fields: []FormField{
			{Name: "email", Type: FieldEmail},
			{Name: "password", Type: FieldPassword},
		}}, nil
	default: // "delete-user-submit"
		if err := f.backend.DeleteUser(ctx, state.userID); err != nil {
			return Step{}, err
		}
		return Step{Kind: StepChoice, Choice: []string{"login", "register"}}, nil
	}
}

func (f *Flow) handleForm(ctx context.Context, state *authState, current Step, reply Reply) (Step, error) {
	if err := validateFields(current.Fields, reply.Fields); err != nil {
		return Step{}, err
	}

	switch current.FormTitle {
	case "login":
		return f.login(ctx, reply.Fields["email"], reply.Fields["password"])
	case "register":
		return f.register(ctx, reply.Fields)
	case "password-reset-send":
		if err := f.backend.ResetPassword(ctx, reply.Fields["email"]); err != nil {
			return Step{}, err
		}
		return Step{Kind: StepChoice, Choice: []string{"login"}}, nil
	case "password-reset-submit":
		if err := f.backend.SubmitPasswordReset(ctx, reply.Fields["reset_token"], reply.Fields["new_password"]); err != nil {
			return Step{}, err
		}
		return Step{Kind: StepChoice, Choice: []string{"login"}}, nil
	case "delete-user-send":
		userID, ok, err := f.backend.GetUserIDByEmail(ctx, reply.Fields["email"])
		if err != nil {
			return Step{}, err
		}
		if !ok {
			return Step{}, herror.ErrWrongCredentials
		}
		valid, err := f.backend.CheckPassword(ctx, userID, reply.Fields["password"])
		if err != nil {
			return Step{}, err
		}
		if !valid {
			return Step{}, herror.ErrWrongCredentials
		}
		state.userID = userID
		return Step{Kind: StepChoice, CanGoBack: true, Choice: []string{"delete-user-submit", "login"}}, nil
	default:
		return Step{}, herror.ErrWrongStep
	}
}

func (f *Flow) login(ctx context.Context, email, password string) (Step, error) {
	userID, ok, err := f.backend.GetUserIDByEmail(ctx, email)
	if err != nil {
		return Step{}, err
	}
	if !ok {
		return Step{}, herror.ErrWrongCredentials
	}
	valid, err := f.backend.CheckPassword(ctx, userID, password)
	if err != nil {
		return Step{}, err
	}
	if !valid {
		return Step{}, herror.ErrWrongCredentials
	}
	token, err := f.backend.MintSession(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	return Step{Kind: StepSessionResult, Session: &models.Session{UserID: userID, Token: token, LastActiveAt: time.Now()}}, nil
}

func (f *Flow) register(ctx context.Context, fields map[string]string) (Step, error) {
	if f.backend.RegistrationRequiresToken(ctx) {
		token := fields["registration_token"]
		if err := f.backend.ValidateSingleUseToken(ctx, token); err != nil {
			return Step{}, err
		}
	}
	userID, err := f.backend.CreateUser(ctx, fields["email"], fields["username"], fields["password"])
	if err != nil {
		return Step{}, err
	}
	token, err := f.backend.MintSession(ctx, userID)
	if err != nil {
		return Step{}, err
	}
	return Step{Kind: StepSessionResult, Session: &models.Session{UserID: userID, Token: token, LastActiveAt: time.Now()}}, nil
}

func validateFields(declared []FormField, got map[string]string) error {
	for _, field := range declared {
		value, present := got[field.Name]
		if !present {
			return herror.ErrWrongFieldType
		}
		switch field.Type {
		case FieldNumber:
			for _, r := range value {
				if r < '0' || r > '9' {
					return herror.ErrWrongFieldType
				}
			}
		case FieldPassword, FieldNewPassword, FieldEmail, FieldText:
			if value == "" {
				return herror.ErrWrongFieldType
			}
		}
	}
	return nil
}

// StepBack pops one step if the current step allows it.
func (f *Flow) StepBack(id string) (Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok || len(state.stack) == 0 {
		return Step{}, herror.ErrBadSession
	}
	current := state.stack[len(state.stack)-1]
	if !current.CanGoBack || len(state.stack) < 2 {
		return Step{}, herror.ErrWrongStep
	}
	state.stack = state.stack[:len(state.stack)-1]
	prev := state.stack[len(state.stack)-1]
	f.publishLocked(state, prev)
	return prev, nil
}

// AttachStream creates and returns a channel that becomes the live
// destination for id's step transitions, flushing into it anything queued
// while no stream was attached.
func (f *Flow) AttachStream(id string) (<-chan Step, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return nil, herror.ErrBadSession
	}
	ch := make(chan Step, 16)
	for _, queued := range state.queued {
		ch <- queued
	}
	state.queued = nil
	state.stream = ch
	return ch, nil
}

// publishLocked must be called with f.mu held. If no stream is attached
// the step is queued instead (spec.md §4.7 "the step is queued keyed by
// auth_id and flushed on next attach"); a Session step closes the stream.
func (f *Flow) publishLocked(state *authState, step Step) {
	if state.stream == nil {
		state.queued = append(state.queued, step)
		return
	}
	state.stream <- step
	if step.Kind == StepSessionResult {
		close(state.stream)
		state.stream = nil
	}
}
