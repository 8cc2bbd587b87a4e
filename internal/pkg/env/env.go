package env

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// DefaultFiles are the locations searched for a .env file, relative to the
// working directory of the binary.
var DefaultFiles = []string{
	".env",          // Current directory
	"../../.env",    // From cmd/nurseshelf to project root
	"../../../.env", // Fallback for deeper nesting
}

// SetupEnvFile loads the first .env file found into the process environment.
// Variables that are already set are not overwritten, so container settings
// win over the file. It returns the file used, or "" when none exists.
func SetupEnvFile(files ...string) (string, error) {
	if len(files) == 0 {
		files = DefaultFiles
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return "", err
		}
		return f, nil
	}
	return "", nil
}

func GetEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
