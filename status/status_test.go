package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCodes(t *testing.T) {
	cases := map[Cause]int{
		Registered:                   201,
		ChainQueryFailure:            10100,
		DomainConflict:               20100,
		RegistrationExecutionFailure: 20101,
		UnknownError:                 20102,
		CompletionRemarkFailure:      20103,
		InvalidDomainFormat:          20200,
		DomainTooShort:               20300,
		Underpaid:                    30100,
	}
	for cause, code := range cases {
		assert.Equal(t, code, cause.Code(), cause.String())
		assert.NotEmpty(t, cause.Reason())
	}
}

func TestCodesAreUnique(t *testing.T) {
	seen := map[int]Cause{}
	for c, e := range registry {
		prev, dup := seen[e.Code]
		require.Falsef(t, dup, "code %d shared by %s and %s", e.Code, prev, c)
		seen[e.Code] = c
	}
}

func TestUnknownCause(t *testing.T) {
	c := Cause(99)
	assert.Equal(t, UnknownError.Code(), c.Code())
	assert.Equal(t, "Cause(99)", c.String())

	got, ok := FromCode(20300)
	require.True(t, ok)
	assert.Equal(t, DomainTooShort, got)

	_, ok = FromCode(1)
	assert.False(t, ok)
}
