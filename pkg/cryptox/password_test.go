package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("Student123!")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	require.NoError(t, VerifyPassword("Student123!", hash))
	require.ErrorIs(t, VerifyPassword("student123!", hash), ErrPasswordMismatch)
}

func TestHashPasswordSaltsEveryCall(t *testing.T) {
	t.Parallel()

	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestVerifyPasswordRejectsGarbageHashes(t *testing.T) {
	t.Parallel()

	for _, h := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$a$b", "$argon2id$v=18$m=1,t=1,p=1$a$b"} {
		require.Error(t, VerifyPassword("pw", h))
	}
}

func TestVerifyPasswordHonoursEmbeddedParameters(t *testing.T) {
	t.Parallel()

	// A hash produced under different parameters must still verify, since
	// the parameters travel inside the PHC string.
	hash, err := HashPassword("pw")
	require.NoError(t, err)

	require.NoError(t, VerifyPassword("pw", hash))
}
