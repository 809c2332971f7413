// Package herror is the error taxonomy of spec.md §7. Every handler in
// internal/trees, internal/permission, internal/authflow and
// internal/federation returns one of these instead of a bare error, so the
// transport layer has a single place (herror.StatusAndID) that maps a
// failure onto both an HTTP status and the stable wire identifier clients
// key their error handling off of.
package herror

import "fmt"

// Kind groups identifiers into the categories spec.md §7 lists.
type Kind int

const (
	KindAuth Kind = iota
	KindNotFound
	KindAlreadyExists
	KindPermission
	KindShape
	KindFederation
	KindResource
	KindInternal
)

// Error is a tagged, wire-safe failure: ID is the stable machine
// identifier ("h.bad-session", ...), Message is shown to a human, and
// Cause (only ever set on KindInternal) is logged but never serialized.
type Error struct {
	Kind    Kind
	ID      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.ID, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, id, message string) *Error {
	return &Error{Kind: kind, ID: id, Message: message}
}

// Auth
var (
	ErrBadSession              = new_(KindAuth, "h.bad-session", "session is missing or expired")
	ErrWrongCredentials        = new_(KindAuth, "h.wrong-user-or-password", "email or password is incorrect")
	ErrInvalidRegistrationToken = new_(KindAuth, "h.invalid-registration-token", "registration token is invalid or already used")
	ErrInvalidFederationToken  = new_(KindAuth, "h.invalid-federation-token", "federation token signature, time, or data is invalid")
)

// Not-found
var (
	ErrUserNotFound      = new_(KindNotFound, "h.user-not-found", "user does not exist")
	ErrGuildNotFound     = new_(KindNotFound, "h.guild-not-found", "guild does not exist")
	ErrChannelNotFound   = new_(KindNotFound, "h.channel-not-found", "channel does not exist")
	ErrMessageNotFound   = new_(KindNotFound, "h.message-not-found", "message does not exist")
	ErrRoleNotFound      = new_(KindNotFound, "h.role-not-found", "role does not exist")
	ErrInviteNotFound    = new_(KindNotFound, "h.bad-invite-id", "invite does not exist or has expired")
	ErrEmotePackNotFound = new_(KindNotFound, "h.emote-pack-not-found", "emote pack does not exist")
	ErrMediaNotFound     = new_(KindNotFound, "h.media-not-found", "media does not exist")
	ErrLinkNotFound      = new_(KindNotFound, "h.link-not-found", "link could not be resolved")
)

// Already-exists
var (
	ErrUserAlreadyExists    = new_(KindAlreadyExists, "h.user-already-exists", "a user with that email already exists")
	ErrGuildAlreadyExists   = new_(KindAlreadyExists, "h.guild-already-exists", "guild already exists")
	ErrChannelAlreadyExists = new_(KindAlreadyExists, "h.channel-already-exists", "channel already exists")
	ErrInviteAlreadyExists  = new_(KindAlreadyExists, "h.invite-already-exists", "invite name already exists")
	ErrUserAlreadyInGuild   = new_(KindAlreadyExists, "h.user-already-in-guild", "user is already a member of this guild")
)

// Permission
var (
	ErrMustBeOwner        = new_(KindPermission, "h.must-be-guild-owner", "action requires guild ownership")
	ErrOwnerCantLeave     = new_(KindPermission, "h.owner-cant-leave", "the owner must transfer ownership before leaving")
	ErrLastOwnerInGuild   = new_(KindPermission, "h.last-owner-in-guild", "cannot give up ownership while the last owner in the guild")
	ErrCantKickOrBanSelf  = new_(KindPermission, "h.cant-kick-or-ban-self", "cannot kick or ban yourself")
)

// NotEnoughPermissions carries the failing match string (spec.md §8
// scenario 5), so it's a constructor rather than a package-level value.
func NotEnoughPermissions(pattern string) *Error {
	return &Error{
		Kind:    KindPermission,
		ID:      "h.not-enough-permissions",
		Message: fmt.Sprintf("missing permission: %s", pattern),
	}
}

// Shape
var (
	ErrMessageEmpty       = new_(KindShape, "h.message-empty", "message content cannot be empty")
	ErrContentTypeNotAllowed = new_(KindShape, "h.content-type-not-allowed", "this content type can only be set by the system")
	ErrTooManyBatchedRequests = new_(KindShape, "h.too-many-batched-requests", "a batch may contain at most 64 requests")
	ErrInvalidBatchEndpoint  = new_(KindShape, "h.invalid-batch-endpoint", "endpoint is not batchable")
	ErrWrongStep            = new_(KindShape, "h.wrong-step", "response does not match the current auth step")
	ErrWrongFieldType       = new_(KindShape, "h.wrong-field-type", "field value does not match the expected type")
)

// Federation
var (
	ErrFederationDisabled = new_(KindFederation, "h.federation-disabled", "federation is disabled on this server")
	ErrHostNotAllowed     = new_(KindFederation, "h.host-not-allowed", "host is not allowed by the allow/block lists")
	ErrCannotFetchPeerKey = new_(KindFederation, "h.cannot-fetch-peer-key", "could not fetch the peer's public key")
)

// Resource
func RateLimited(retryAfterSeconds int) *Error {
	return &Error{
		Kind:    KindResource,
		ID:      "h.ratelimited",
		Message: fmt.Sprintf("retry after %ds", retryAfterSeconds),
	}
}

var ErrMediaTooLarge = new_(KindResource, "h.media-too-large", "media exceeds the configured size limit")

// Internal wraps an unexpected failure. Its Cause is logged with the full
// chain by transport middleware; the wire payload only ever carries
// ID/Message (spec.md §7: "never leaked as text beyond 'internal server
// error'").
func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		ID:      "h.internal-server-error",
		Message: "internal server error",
		Cause:   cause,
	}
}

// StatusAndID maps an herror.Error onto the HTTP status transport should
// respond with and the stable identifier to put in the body. Any other
// error (one that didn't originate in this package) is treated as
// internal.
func StatusAndID(err error) (status int, id string, message string) {
	e, ok := err.(*Error)
	if !ok {
		return 500, "h.internal-server-error", "internal server error"
	}
	switch e.Kind {
	case KindAuth:
		return 401, e.ID, e.Message
	case KindNotFound:
		return 404, e.ID, e.Message
	case KindAlreadyExists:
		return 409, e.ID, e.Message
	case KindPermission:
		return 403, e.ID, e.Message
	case KindShape:
		return 400, e.ID, e.Message
	case KindFederation:
		return 502, e.ID, e.Message
	case KindResource:
		return 429, e.ID, e.Message
	default:
		return 500, "h.internal-server-error", "internal server error"
	}
}
