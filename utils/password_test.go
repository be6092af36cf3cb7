package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPassword(t *testing.T) {
	t.Setenv("BCRYPT_COST", "4")
	hashed, err := HashPassword("correct horse")
	require.NoError(t, err)

	cost, err := bcrypt.Cost(hashed)
	require.NoError(t, err)
	assert.Equal(t, 4, cost)

	assert.NoError(t, ComparePassword(string(hashed), "correct horse"))
	assert.ErrorIs(t, ComparePassword(string(hashed), "battery staple"), ErrPasswordMismatch)
	assert.Error(t, ComparePassword("not a hash", "x"))

	t.Setenv("BCRYPT_COST", "99")
	assert.Equal(t, bcrypt.DefaultCost, passwordCost())
}
