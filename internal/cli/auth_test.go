package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://a:8080", "wp_key_a"))
	require.NoError(t, saveCredential("http://b:8080", "wp_key_b"))

	creds, err := loadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "wp_key_a", creds.Servers["http://a:8080"].APIKey)
	assert.Equal(t, "wp_key_b", creds.Servers["http://b:8080"].APIKey)

	assert.Equal(t, "wp_key_a", getCredential("http://a:8080"))
	assert.Equal(t, "", getCredential("http://unknown:8080"))
}

func TestCredentialsFilePermissions(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://a:8080", "wp_key_a"))

	info, err := os.Stat(credentialsFilePath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(credentialsDir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestRunAuthLogout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, saveCredential("http://a:8080", "wp_key_a"))
	require.NoError(t, saveCredential("http://b:8080", "wp_key_b"))

	require.NoError(t, runAuthLogout("http://a:8080", false))

	creds, err := loadCredentials()
	require.NoError(t, err)
	assert.NotContains(t, creds.Servers, "http://a:8080")
	assert.Contains(t, creds.Servers, "http://b:8080")

	require.NoError(t, runAuthLogout("", true))
	_, err = loadCredentials()
	assert.True(t, os.IsNotExist(err))
}

func TestValidateAPIKey(t *testing.T) {
	t.Run("accepted key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "wp_key_good", r.Header.Get("X-API-Key"))
			json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		}))
		defer srv.Close()

		valid, err := validateAPIKey(srv.URL, "wp_key_good")
		require.NoError(t, err)
		assert.True(t, valid)
	})

	t.Run("explicit 401 marks key invalid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "UNAUTHORIZED", "message": "Invalid API key"},
			})
		}))
		defer srv.Close()

		valid, err := validateAPIKey(srv.URL, "wp_key_bad")
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("unreachable server is an error", func(t *testing.T) {
		_, err := validateAPIKey("http://127.0.0.1:1", "wp_key_any")
		assert.Error(t, err)
	})
}
