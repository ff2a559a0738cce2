package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewHasNoCause(t *testing.T) {
	err := New(LockTimeout, "waited too long")
	assert.Equal(t, "LockTimeout: waited too long", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(OutOfSpace, "cannot allocate page", cause)
	assert.Equal(t, "OutOfSpace: cannot allocate page: disk full", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestOfExtractsKindThroughWrapping(t *testing.T) {
	base := New(WalCorruption, "bad checksum")
	wrapped := fmt.Errorf("recovery: %w", base)

	kind, ok := Of(wrapped)
	assert.True(t, ok)
	assert.Equal(t, WalCorruption, kind)
}

func TestOfReturnsRuntimeFalseForPlainError(t *testing.T) {
	kind, ok := Of(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, Runtime, kind)
}

func TestIsMatchesKindAcrossWrapping(t *testing.T) {
	err := fmt.Errorf("op: %w", New(SessionExpired, "idle too long"))
	assert.True(t, Is(err, SessionExpired))
	assert.False(t, Is(err, UnknownSession))
}

func TestErrorsAsUnwrapsToConcreteType(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(InvalidArgument, "bad param"))

	var target *Error
	require := assert.New(t)
	require.True(errors.As(err, &target))
	require.Equal(InvalidArgument, target.Kind)
}
