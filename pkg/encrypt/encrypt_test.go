package encrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("open sesame")
	require.NoError(t, err)
	assert.NotEqual(t, "open sesame", hash)

	assert.NoError(t, CheckPassword(hash, "open sesame"))
	assert.ErrorIs(t, CheckPassword(hash, "open sesame!"), ErrPasswordMismatch)
}

func TestHashPasswordTooShort(t *testing.T) {
	_, err := HashPassword("abc")
	assert.ErrorIs(t, err, ErrWeakPassword)
}
