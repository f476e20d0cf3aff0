package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataTable(t *testing.T) {
	tests := map[Code]Metadata{
		CodeValidation:    {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true, ExposeMessage: true},
		CodeUnauthorized:  {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", ExposeMessage: true},
		CodeNotFound:      {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", ExposeMessage: true},
		CodeQuotaExceeded: {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "insufficient pages remaining", DetailsAllowed: true, ExposeMessage: true},
		CodeSignature:     {HTTPStatus: http.StatusBadRequest, PublicMessage: "Invalid signature"},
		CodeInternal:      {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
		CodeDependency:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	}
	for code, want := range tests {
		assert.Equal(t, want, MetadataFor(code), string(code))
	}
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "pages must be positive", New(CodeValidation, "pages must be positive").PublicMessage())
	assert.Equal(t, "validation failed", New(CodeValidation, "").PublicMessage())
	assert.Equal(t, "dependency unavailable", New(CodeDependency, "postgres: connection refused").PublicMessage())
	assert.Equal(t, "Invalid signature", New(CodeSignature, "no v1 entry").PublicMessage())
}

func TestPublicDetails(t *testing.T) {
	details := map[string]string{"pages": "is required"}
	assert.Equal(t, details, New(CodeValidation, "bad").WithDetails(details).PublicDetails())
	assert.Nil(t, New(CodeSignature, "bad").WithDetails(details).PublicDetails())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeDependency, cause, "load usage period")

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeDependency, wrapped.Code())
	assert.Equal(t, "DEPENDENCY_ERROR: load usage period", wrapped.Error())

	plain := Wrap(CodeNotFound, nil, "missing")
	assert.Nil(t, plain.Unwrap())
}

func TestNilErrorAccessors(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.Details())
	assert.Nil(t, e.WithDetails("x"))
	assert.Equal(t, "internal server error", e.PublicMessage())
}

func TestAsAndIsCode(t *testing.T) {
	inner := New(CodeNotFound, "entitlement not found")
	wrapped := fmt.Errorf("apply event: %w", inner)

	require.Same(t, inner, As(wrapped))
	assert.True(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCode(wrapped, CodeDependency))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeInternal))
	assert.Nil(t, As(nil))
}

func TestCoerce(t *testing.T) {
	typed := New(CodeUnauthorized, "missing token")
	assert.Same(t, typed, Coerce(fmt.Errorf("auth: %w", typed)))

	raw := stdErrors.New("boom")
	coerced := Coerce(raw)
	assert.Equal(t, CodeInternal, coerced.Code())
	assert.ErrorIs(t, coerced, raw)

	assert.Equal(t, CodeInternal, Coerce(nil).Code())
}
