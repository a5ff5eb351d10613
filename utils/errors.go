package utils

import "errors"

// Error kinds surfaced by the matchmaking core. LockContention and Transient
// are not retried here: they reach the API layer like the other kinds and
// map to the "retry soon" verdict. Only the pair creator retries its
// participant locks with backoff before giving up.
var (
	ErrNotMatchable      = errors.New("participant state forbids the action")
	ErrInvalidTransition = errors.New("state change not allowed from current state")
	ErrLockContention    = errors.New("participant or match locked elsewhere")
	ErrDuplicatePair     = errors.New("canonical pair already has a non-terminal match")
	ErrWindowExpired     = errors.New("vote window closed before action received")
	ErrNotFound          = errors.New("participant or match missing")
	ErrTransient         = errors.New("retryable store fault")
	ErrFatal             = errors.New("invariant violated")

	ErrLockTimeout = errors.New("get lock timeout")
	ErrRateLimited = errors.New("spin rate limit hit")
)

// User-visible verdicts. Callers never see raw store errors.
const (
	VerdictOK         = "ok"
	VerdictKeepPoll   = "keep polling"
	VerdictInvalidNow = "invalid now"
	VerdictRetrySoon  = "retry soon"
)

// Verdict coarsens an internal error into the caller-facing reply.
func Verdict(err error) string {
	switch {
	case err == nil:
		return VerdictOK
	case errors.Is(err, ErrLockContention), errors.Is(err, ErrTransient):
		return VerdictRetrySoon
	case errors.Is(err, ErrNotMatchable), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrWindowExpired), errors.Is(err, ErrNotFound),
		errors.Is(err, ErrFatal):
		return VerdictInvalidNow
	default:
		return VerdictRetrySoon
	}
}
