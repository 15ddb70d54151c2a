package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	Env = map[string]string{"APP_PORT": "4000"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("DB_NAME", "notepads")

	assert.Equal(t, "4000", GetEnv("APP_PORT", "8080"))
	assert.Equal(t, "notepads", GetEnv("DB_NAME", ""))
	assert.Equal(t, "fallback", GetEnv("UNSET_KEY_FOR_TEST", "fallback"))
}

func TestIsDev(t *testing.T) {
	Env = map[string]string{"APP_ENV": "dev"}
	t.Cleanup(func() { Env = nil })
	assert.True(t, IsDev())

	Env = map[string]string{"APP_ENV": "prod"}
	assert.False(t, IsDev())
}
