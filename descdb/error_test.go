package descdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestErrorCodeStringer tests the stringized output for the ErrorCode type.
func TestErrorCodeStringer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   ErrorCode
		want string
	}{
		{ErrNotFound, "ErrNotFound"},
		{ErrUnknownDbType, "ErrUnknownDbType"},
		{ErrVersionMismatch, "ErrVersionMismatch"},
		{0xffff, "Unknown ErrorCode (65535)"},
	}

	// Detect additional error codes that don't have the stringer added.
	require.Len(t, tests, int(numErrorCodes)+1)

	for _, test := range tests {
		require.Equal(t, test.want, test.in.String())
	}
}

// TestStoreErrors tests that store failures carry their code and a
// description naming the input.
func TestStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := Open("bolt", t.TempDir())
	var dbErr Error
	require.True(t, errors.As(err, &dbErr))
	require.Equal(t, ErrUnknownDbType, dbErr.ErrorCode)
	require.Contains(t, err.Error(), `"bolt"`)

	s, err := Open(LevelDB, t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Lookup([]byte{0x00, 0x14, 0xab})
	require.True(t, errors.As(err, &dbErr))
	require.Equal(t, ErrNotFound, dbErr.ErrorCode)
	require.Contains(t, err.Error(), "0014ab")
	require.False(t, errors.Is(err, ErrVersionMismatch))
}
