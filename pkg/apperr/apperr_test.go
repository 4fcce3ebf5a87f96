package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindNotFound, KindOf(NotFound("AdSlot")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("create: %w", Conflict("adslot_id", "full"))))
	assert.Equal(t, KindUnavailable, KindOf(errors.New("connection refused")))
}

func TestIsMatchesKindAndData(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", InvalidParam("start_at", "bad day"))
	assert.True(t, errors.Is(err, InvalidParam("start_at", "")))
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidParameter}))
	assert.False(t, errors.Is(err, InvalidParam("months", "")))
	assert.False(t, errors.Is(err, NotFound("start_at")))
}

func TestFromWrapsUnknown(t *testing.T) {
	cause := errors.New("redis: i/o timeout")
	e := From(cause)
	assert.Equal(t, KindUnavailable, e.Kind)
	assert.ErrorIs(t, e, cause)

	typed := MaximumReached("adperiod_id", "too many")
	assert.Same(t, typed, From(typed))
}
