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

func TestWithHint(t *testing.T) {
	err := WithHint(New("hash count"), "check the leafCount advertised by the server")
	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "check the leafCount advertised by the server", hints[0])
}

func TestWrapTransport(t *testing.T) {
	base := fmt.Errorf("connection refused")
	err := WrapTransport(base, "GET https://locus/hashtree")

	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.True(t, Is(err, ErrTransport))
	assert.Contains(t, err.Error(), "GET https://locus/hashtree")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapTransport_Nil(t *testing.T) {
	assert.NoError(t, WrapTransport(nil, "anything"))
	assert.False(t, IsTransportError(nil))
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := Wrapf(ErrUnknownDataSet, "data set %q", "atd-active")
	assert.True(t, Is(err, ErrUnknownDataSet))
	assert.False(t, Is(err, ErrStopped))
}

func ExampleWrap() {
	err := Wrap(New("connection refused"), "sync request")
	fmt.Println(err)
	// Output: sync request: connection refused
}
