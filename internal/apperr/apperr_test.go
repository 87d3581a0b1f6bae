package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromKeepsClassification(t *testing.T) {
	base := Forbidden(CodeNotGroupMember, "not a member")
	wrapped := fmt.Errorf("join: %w", base)

	got := From(wrapped)
	require.Equal(t, KindAuthorization, got.Kind)
	require.Equal(t, CodeNotGroupMember, got.Code)
}

func TestFromUnknownIsInternal(t *testing.T) {
	got := From(errors.New("boom"))
	require.Equal(t, KindInternal, got.Kind)
	require.Equal(t, CodeInternal, got.Code)
	require.Nil(t, From(nil))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("store unavailable", cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "transient", err.Kind.String())
}
