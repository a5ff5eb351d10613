package utils

import (
	"testing"

	"github.com/magiconair/properties/assert"
)

func TestVerdictMapping(t *testing.T) {
	assert.Equal(t, Verdict(nil), VerdictOK)
	assert.Equal(t, Verdict(ErrLockContention), VerdictRetrySoon)
	assert.Equal(t, Verdict(ErrTransient), VerdictRetrySoon)
	assert.Equal(t, Verdict(ErrRateLimited), VerdictRetrySoon)
	assert.Equal(t, Verdict(ErrNotMatchable), VerdictInvalidNow)
	assert.Equal(t, Verdict(ErrInvalidTransition), VerdictInvalidNow)
	assert.Equal(t, Verdict(ErrWindowExpired), VerdictInvalidNow)
	assert.Equal(t, Verdict(ErrNotFound), VerdictInvalidNow)
	assert.Equal(t, Verdict(ErrFatal), VerdictInvalidNow)
}
