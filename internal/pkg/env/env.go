package env

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

var ErrNoEnvFile = errors.New("no .env file found in any of the expected locations")

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found. A missing file is reported
// as ErrNoEnvFile; the process environment still applies.
func SetupEnvFile() error {
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/server to project root
		"../../../.env", // Fallback for deeper nesting
	}

	for _, envFile := range envFiles {
		vals, err := godotenv.Read(envFile)
		if err == nil {
			Env = vals
			return nil
		}
	}
	Env = map[string]string{}
	return ErrNoEnvFile
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
