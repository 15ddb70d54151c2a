package oauth

import (
	"net/url"
	"strings"
	"testing"

	"github.com/markbates/goth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidebar-notepads/backend/internal/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:       "dev",
		PublicDomain: "https://notepads.example.com",
		Google:       config.GoogleConfig{ClientID: "cid", ClientSecret: "secret"},
	}
}

func TestNewGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider(testConfig())
	sess, err := p.BeginAuth("state-123")
	require.NoError(t, err)
	authURL, err := sess.GetAuthURL()
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "https://notepads.example.com/auth/google/callback", q.Get("redirect_uri"))
	scopes := strings.Fields(q.Get("scope"))
	assert.Contains(t, scopes, DriveFileScope)
	assert.Contains(t, scopes, "email")
}

func TestSetup_RegistersGoogle(t *testing.T) {
	Setup(testConfig(), nil)
	t.Cleanup(goth.ClearProviders)

	p, err := goth.GetProvider("google")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())
}
