package errors

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsCaller(t *testing.T) {
	err := New("boom %d", 7)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), "boom 7")
}

func TestWrapfNil(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "ctx"))
	assert.NoError(t, WithKind(nil, KindSpawn, "ctx"))
}

func TestKindOf(t *testing.T) {
	base := stderrors.New("address in use")
	err := WithKind(base, KindBind, "listen on %s", "127.0.0.1:5000")
	assert.Equal(t, KindBind, KindOf(err))
	assert.True(t, Is(err, base))

	wrapped := Wrapf(err, "start server")
	assert.Equal(t, KindBind, KindOf(wrapped))

	assert.Equal(t, KindClosed, KindOf(Wrapf(ErrSessionClosed, "submit")))
	assert.Equal(t, KindTimeout, KindOf(ErrTimedOut))
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindValidation, KindOf(Kindf(KindValidation, "bad %s", "input")))
}
