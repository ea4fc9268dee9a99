package guard

import (
	"context"
	"log/slog"
	"strings"

	"github.com/valkyrsec/vault-guard/audit"
	"github.com/valkyrsec/vault-guard/password"
)

// RequestPasswordReset issues a reset token for the email and hands it to
// the notifier. The response is uniform whether or not the email exists, so
// the endpoint cannot be used to enumerate accounts; only a backend failure
// surfaces as an error.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrCredentialsRequired
	}

	e.metrics.Inc(MetricPasswordResetRequest)

	user, err := e.directory.FindUserByEmail(ctx, email)
	if err != nil {
		e.log.Error("user directory lookup failed", slog.String("email", email), slog.Any("error", err))
		return ErrInternal
	}
	if user == nil {
		// Same outcome as the found case, without the token.
		return nil
	}

	tok, err := e.resets.Issue(user.ID, user.Email)
	if err != nil {
		return ErrInternal
	}

	e.appendAudit(ctx, audit.Event{
		Type:       audit.EventPasswordManagement,
		Category:   audit.CategorySecurity,
		Severity:   audit.SeverityInfo,
		Action:     "password_reset_requested",
		ActorID:    user.ID,
		ActorEmail: user.Email,
		Outcome:    audit.OutcomeSuccess,
	})

	if e.notifier != nil {
		if err := e.notifier.SendPasswordReset(ctx, user.Email, tok.Value); err != nil {
			e.log.Error("reset notification delivery failed", slog.String("email", user.Email), slog.Any("error", err))
			return ErrInternal
		}
	}
	return nil
}

// ValidatePasswordReset reports whether a reset token is currently
// redeemable. The check deliberately reveals validity: the caller already
// holds the token, so there is nothing left to enumerate.
func (e *Engine) ValidatePasswordReset(token string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	if e.resets.Validate(token) == nil {
		return ErrResetTokenInvalid
	}
	return nil
}

// ConfirmPasswordReset redeems a token against a new password: token check,
// policy check, atomic single-use consumption, re-hash, directory update, and
// destruction of every session the user had. A dead token is reported ahead
// of the policy verdict, and a rejected password never burns a live token.
// Exactly one of two concurrent confirmations with the same token can
// succeed.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e.isClosed() {
		return ErrEngineClosed
	}

	if e.resets.Validate(token) == nil {
		return e.rejectResetConfirm(ctx)
	}

	if result := password.ValidatePolicy(newPassword); !result.IsValid {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return ErrPasswordPolicy
	}

	tok := e.resets.Consume(token)
	if tok == nil {
		// Lost the race against a concurrent redemption of the same token.
		return e.rejectResetConfirm(ctx)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		return ErrInternal
	}
	if err := e.directory.UpdatePasswordHash(ctx, tok.UserID, hash); err != nil {
		e.metrics.Inc(MetricPasswordResetConfirmFailure)
		e.log.Error("password hash update failed", slog.String("user_id", tok.UserID), slog.Any("error", err))
		return ErrInternal
	}

	// A changed password invalidates every standing session.
	if _, err := e.sessions.DestroyAllForUser(ctx, tok.UserID); err != nil {
		e.log.Warn("session invalidation after reset failed", slog.String("user_id", tok.UserID), slog.Any("error", err))
	}

	e.metrics.Inc(MetricPasswordResetConfirmSuccess)
	e.appendAudit(ctx, audit.Event{
		Type:       audit.EventPasswordManagement,
		Category:   audit.CategorySecurity,
		Severity:   audit.SeverityLow,
		Action:     "password_reset_confirmed",
		ActorID:    tok.UserID,
		ActorEmail: tok.Email,
		Outcome:    audit.OutcomeSuccess,
	})

	if e.notifier != nil {
		if err := e.notifier.SendPasswordChanged(ctx, tok.Email); err != nil {
			e.log.Warn("password change notification failed", slog.String("email", tok.Email), slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) rejectResetConfirm(ctx context.Context) error {
	e.metrics.Inc(MetricPasswordResetConfirmFailure)
	e.appendAudit(ctx, audit.Event{
		Type:     audit.EventPasswordManagement,
		Category: audit.CategorySecurity,
		Severity: audit.SeverityMedium,
		Action:   "password_reset_rejected",
		Outcome:  audit.OutcomeFailure,
	})
	return ErrResetTokenInvalid
}
