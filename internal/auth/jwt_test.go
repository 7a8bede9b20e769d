package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "presence", "secret", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "presence")
	require.NoError(t, err)
	require.Equal(t, "stu-1", claims.Subject)
	require.Equal(t, RoleStudent, claims.Role)
}

func TestParse_WrongKey(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "presence", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "presence")
	require.Error(t, err)
}

func TestParse_IssuerMismatch(t *testing.T) {
	pair, err := Issue("stu-1", RoleStudent, "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "presence")
	require.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue("stu-1", RolePresenter, "presence", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "presence")
	require.Error(t, err)
}
