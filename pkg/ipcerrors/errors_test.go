package ipcerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfMatchesByKindNotPointerIdentity(t *testing.T) {
	err := New(DoesNotExist, "Service.open", "my-service", nil)
	assert.True(t, Of(err, DoesNotExist))
	assert.False(t, Of(err, AlreadyExists))
}

func TestOfUnwrapsThroughWrappingErrors(t *testing.T) {
	inner := New(Corrupted, "Service.open", "svc", nil)
	wrapped := fmt.Errorf("loading config: %w", inner)

	assert.True(t, Of(wrapped, Corrupted))
}

func TestOfReturnsFalseForUnrelatedErrorTypes(t *testing.T) {
	assert.False(t, Of(errors.New("plain error"), DoesNotExist))
	assert.False(t, Of(nil, DoesNotExist))
}

func TestErrorMessageIncludesServiceNameWhenPresent(t *testing.T) {
	withName := New(AlreadyExists, "Service.create", "my-service", nil)
	assert.Contains(t, withName.Error(), "my-service")

	withoutName := New(AlreadyExists, "Service.create", "", nil)
	assert.NotContains(t, withoutName.Error(), `""`)
}

func TestInternalKindsCaptureAStack(t *testing.T) {
	internal := New(InternalFailure, "Reactor.wait", "", errors.New("epoll_wait failed"))
	assert.NotEmpty(t, internal.ErrorStack())

	notInternal := New(DoesNotExist, "Service.open", "", nil)
	assert.Empty(t, notInternal.ErrorStack())
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying syscall error")
	err := New(InternalError, "Reactor.attach", "", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}
