package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	base := NotFound("task")
	wrapped := Wrap(base, "loading report")

	assert.Equal(t, CodeNotFound, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "loading report")
	assert.True(t, Is(wrapped, base))
}

func TestWrapPlainErrorIsInternal(t *testing.T) {
	wrapped := Wrapf(fmt.Errorf("boom"), "stage %s", "curate")
	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.Equal(t, "stage curate: boom", wrapped.Error())
}

func TestGetCodeThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("iteration 2 already stored"))
	assert.True(t, IsAppError(err))
	assert.True(t, HasCode(err, CodeConflict))
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("plain")))
}

func TestWithCodeAndNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, WithCode(CodeConflict, nil))

	err := WithCode(CodePlanningFailed, fmt.Errorf("model down"))
	assert.Equal(t, CodePlanningFailed, GetCode(err))
}
