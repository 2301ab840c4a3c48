package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/internal/user"
)

var dave = user.User{ID: "9f1c", Username: "dave"}

func TestIssueAndValidate(t *testing.T) {
	i := NewIssuer("secret", time.Minute, time.Hour)

	res, err := i.Issue(dave)
	require.NoError(t, err)
	assert.Equal(t, dave.ID, res.UserID)

	u, err := i.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, dave, u)

	u, err = i.ValidateRefresh(res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, dave, u)

	again, err := i.Issue(dave)
	require.NoError(t, err)
	assert.NotEqual(t, res.AccessToken, again.AccessToken)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	i := NewIssuer("secret", time.Minute, time.Hour)
	res, err := i.Issue(dave)
	require.NoError(t, err)

	_, err = i.ValidateToken(res.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenKind)

	_, err = i.ValidateRefresh(res.AccessToken)
	assert.ErrorIs(t, err, ErrTokenKind)
}

func TestTokenRejections(t *testing.T) {
	res, err := NewIssuer("secret", time.Minute, time.Hour).Issue(dave)
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Minute, time.Hour).ValidateToken(res.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired := NewIssuer("secret", -time.Minute, time.Hour)
	res, err = expired.Issue(dave)
	require.NoError(t, err)
	_, err = expired.ValidateToken(res.AccessToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = expired.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}
