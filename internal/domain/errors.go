package domain

import "errors"

var (
	// ErrDuplicateEvent signals a replayed webhook whose effect has already
	// been applied. Handlers resolve it by re-acknowledging.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrSessionExpired signals missing or expired conversation state
	// mid-call. The session machine degrades to a context-free continuation.
	ErrSessionExpired = errors.New("conversation session expired")

	// ErrBackboneTimeout signals the AI backbone did not answer within the
	// bounded timeout.
	ErrBackboneTimeout = errors.New("ai backbone timeout")

	// ErrBackboneFailure signals a non-timeout AI backbone failure.
	ErrBackboneFailure = errors.New("ai backbone failure")

	// ErrAnalysisAlreadyDone signals a retried analysis of a call that
	// already has a summary written.
	ErrAnalysisAlreadyDone = errors.New("call already analyzed")

	// ErrAlreadyMetered signals a retried metering pass for a call whose
	// duration has already been added to the ledger.
	ErrAlreadyMetered = errors.New("call already metered")

	// ErrLimitNotFound signals a business without a configured tier limit.
	// Metering treats it as unlimited and sends no alerts.
	ErrLimitNotFound = errors.New("tier limit not found")
)
