package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(ttl string) *Manager {
	return NewManager(Config{
		Enabled:  true,
		Secret:   "test-secret",
		TokenTTL: ttl,
		Users: []UserConfig{
			{Username: "admin", Password: "admin-pass", Role: "admin"},
			{Username: "analyst", Password: "analyst-pass", Role: "viewer"},
		},
	})
}

func TestConfig_Validate(t *testing.T) {
	disabled := Config{}
	require.NoError(t, disabled.Validate())

	ok := Config{Enabled: true, Secret: "s", TokenTTL: "12h"}
	require.NoError(t, ok.Validate())

	noSecret := Config{Enabled: true}
	assert.ErrorContains(t, noSecret.Validate(), "secret")

	badTTL := Config{Enabled: true, Secret: "s", TokenTTL: "tomorrow"}
	assert.ErrorContains(t, badTTL.Validate(), "token_ttl")
}

func TestManager_IssueAndVerify(t *testing.T) {
	m := testManager("1h")

	token, err := m.Issue("admin", "admin")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestManager_Authenticate(t *testing.T) {
	m := testManager("1h")

	token, err := m.Authenticate("analyst", "analyst-pass")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "analyst", claims.Subject)
	assert.Equal(t, "viewer", claims.Role)

	_, err = m.Authenticate("analyst", "wrong")
	assert.Error(t, err)

	_, err = m.Authenticate("nobody", "x")
	assert.Error(t, err)
}

func TestManager_ExpiredToken(t *testing.T) {
	short := NewManager(Config{Secret: "test-secret", TokenTTL: "1ms"})
	token, err := short.Issue("admin", "admin")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = short.Verify(token)
	assert.Error(t, err)
}

func TestManager_WrongSecret(t *testing.T) {
	m := testManager("1h")
	other := NewManager(Config{Secret: "other-secret", TokenTTL: "1h"})

	token, err := m.Issue("admin", "admin")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}
