package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := NotFound(12, nil)
	assert.Equal(t, "NotFoundError: task 12: could not find download task: download task not found", err.Error())
	assert.ErrorIs(t, err, ErrTaskNotFound)

	v := Validation("ids must not be empty", nil)
	assert.Equal(t, "ValidationError: ids must not be empty", v.Error())
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("start: %w", JobScheduling(3, "cannot start", ErrJobAlreadyActive))
	assert.Equal(t, KindJobScheduling, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindJobScheduling))
	assert.ErrorIs(t, wrapped, ErrJobAlreadyActive)

	joined := errors.Join(errors.New("plain"), Store("save failed", nil))
	assert.Equal(t, KindStore, KindOf(joined))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindNotFound))
}

func TestProbeExhausted(t *testing.T) {
	cause := errors.New("connection refused")
	err := ProbeExhausted(4, 3, cause)
	assert.Equal(t, KindProbeExhausted, err.Kind)
	assert.Contains(t, err.Error(), "server 4 unreachable after 3 attempts")
	assert.ErrorIs(t, err, cause)
}
