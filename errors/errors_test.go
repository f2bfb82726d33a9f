package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapf(t *testing.T) {
	original := New("original")
	wrapped := Wrapf(original, "wrapped: %d", 42)

	assert.Contains(t, wrapped.Error(), "wrapped: 42")
	assert.Contains(t, wrapped.Error(), "original")
}

type customError struct {
	msg string
}

func (e *customError) Error() string {
	return e.msg
}

func TestAs(t *testing.T) {
	original := &customError{msg: "custom"}
	wrapped := Wrap(original, "wrapped")

	var target *customError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "custom", target.msg)
}

func TestWithDetail(t *testing.T) {
	err := New("error")
	withDetail := WithDetail(err, "batch_id: BJ-1234")

	details := GetAllDetails(withDetail)
	require.Len(t, details, 1)
	assert.Equal(t, "batch_id: BJ-1234", details[0])
}

func TestSentinels(t *testing.T) {
	notFound := NewNotFoundError("batch job %s", "BJ-404")
	assert.True(t, IsNotFoundError(notFound))
	assert.False(t, IsInvalidStateError(notFound))
	assert.Contains(t, notFound.Error(), "BJ-404")

	invalid := NewInvalidStateError("cannot cancel job in state %s", "completed")
	assert.True(t, IsInvalidStateError(invalid))
	assert.False(t, IsNotFoundError(invalid))

	// Wrapping must preserve the sentinel
	wrapped := Wrap(notFound, "while starting batch")
	assert.True(t, Is(wrapped, ErrNotFound))
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	// Format with stack trace
	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithStack(nil))
	assert.Nil(t, WithDetail(nil, "detail"))
}

func TestErrorChaining(t *testing.T) {
	base := New("adjudicator unavailable")

	err := Wrap(base, "claim 1207")
	err = WithDetail(err, "attempt: 2")
	err = Wrap(err, "batch aborted")

	assert.True(t, Is(err, base))
	assert.Contains(t, err.Error(), "batch aborted")
	assert.Contains(t, err.Error(), "claim 1207")

	details := GetAllDetails(err)
	assert.Contains(t, details, "attempt: 2")
}

func ExampleWrap() {
	baseErr := New("connection failed")
	err := Wrap(baseErr, "failed to reach adjudication service")
	fmt.Println(err)
	// Output: failed to reach adjudication service: connection failed
}
