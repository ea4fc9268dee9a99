package guard

import (
	"context"

	"github.com/valkyrsec/vault-guard/password"
	"github.com/valkyrsec/vault-guard/session"
)

// UserRecord is what the external user directory returns for a user. The
// engine reads PasswordHash during credential checks and rewrites it through
// UpdatePasswordHash; it never stores records itself.
type UserRecord struct {
	ID           string
	Email        string
	DisplayName  string
	Role         string
	PasswordHash string
}

// UserSummary is the minimal profile returned to authenticated callers.
type UserSummary struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

func summarize(u *UserRecord) UserSummary {
	return UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
	}
}

// UserDirectory is the external user store collaborator. Lookups return
// (nil, nil) when the user does not exist; an error means the backend
// itself failed. Implementations must be safe for concurrent use.
type UserDirectory interface {
	FindUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindUserByID(ctx context.Context, id string) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// Notifier delivers out-of-band user notifications. Reset tokens are handed
// to it verbatim; the engine never embeds them in any other output.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, token string) error
	SendPasswordChanged(ctx context.Context, email string) error
}

// AuthResult is a successful authentication: the opaque session token, an
// optional short-lived access assertion (empty when the JWT feature is off),
// and the minimal user profile.
type AuthResult struct {
	SessionToken string
	AccessToken  string
	Session      *session.Session
	User         UserSummary
}

// PasswordStrength re-exports the policy scorer's output for callers that
// only import the root package.
type PasswordStrength = password.Strength

// PasswordPolicyResult re-exports the policy validator's output.
type PasswordPolicyResult = password.PolicyResult

// CheckPasswordPolicy validates a candidate password against the fixed
// policy, collecting every violation.
func CheckPasswordPolicy(candidate string) PasswordPolicyResult {
	return password.ValidatePolicy(candidate)
}

// ScorePassword rates a candidate password 0-100 with level and feedback.
func ScorePassword(candidate string) PasswordStrength {
	return password.Score(candidate)
}
