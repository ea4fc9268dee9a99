// Package guard is an embeddable authentication security engine: password
// policy and hashing, session management, login-attempt lockout, password
// reset, a risk-scored audit log, and on-demand suspicious-activity
// detection, composed behind one Engine built from a fluent Builder.
//
// The engine owns no user storage. Callers supply a UserDirectory for
// lookups and password-hash updates; everything else (sessions, attempts,
// reset tokens, audit events) lives in stores the engine owns exclusively.
package guard
