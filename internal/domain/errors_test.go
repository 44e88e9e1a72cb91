package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbortWrapsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Abort(ctx, errors.New("read tcp: use of closed network connection"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestAbortPassesThroughRealFailures(t *testing.T) {
	orig := fmt.Errorf("%w: 502 bad gateway", ErrAPIRequest)
	err := Abort(context.Background(), orig)
	assert.Equal(t, orig, err)
	assert.NotErrorIs(t, err, ErrAborted)
}

func TestAbortNil(t *testing.T) {
	assert.NoError(t, Abort(context.Background(), nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("%w: 500", ErrAPIRequest)))
	assert.True(t, IsRetryableError(fmt.Errorf("%w: refused", ErrModelInit)))
	assert.False(t, IsRetryableError(fmt.Errorf("%w: cancelled", ErrAborted)))
	assert.False(t, IsRetryableError(fmt.Errorf("%w: policy", ErrUnsafeContent)))
	assert.False(t, IsRetryableError(fmt.Errorf("%w: gone", ErrModelNotFound)))
	assert.False(t, IsRetryableError(nil))
}

func TestErrorCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{ErrModelNotFound, CodeModelNotFound},
		{fmt.Errorf("%w: wrapped twice: %v", ErrAPIRequest, "x"), CodeAPIRequestFailed},
		{NewDomainError("Op", ErrUnsafeContent, "detail"), CodeUnsafeContent},
		{errors.New("mystery"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCodeOf(tt.err))
	}
}

func TestDomainErrorFormatting(t *testing.T) {
	err := NewDomainError("Client.CreateModel", ErrModelNotFound, "gpt-99")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Contains(t, err.Error(), "Client.CreateModel")
	assert.Contains(t, err.Error(), "gpt-99")
}

func TestValidateToolSchemas(t *testing.T) {
	valid := []ToolSchema{{
		Name:       "search",
		Parameters: []byte(`{"type":"object","properties":{"q":{"type":"string"}}}`),
	}}
	require.NoError(t, ValidateToolSchemas(valid))

	require.Error(t, ValidateToolSchemas([]ToolSchema{{Parameters: []byte(`{}`)}}), "unnamed tool")

	err := ValidateToolSchemas([]ToolSchema{{Name: "broken", Parameters: []byte(`{"type"`)}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
