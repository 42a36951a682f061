package env

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"github.com/jaywantadh/msgvault/pkg/logging"
)

// PasswordKey names the variable holding the part sealing password.
const PasswordKey = "MSGVAULT_PASSWORD"

// LoadEnv loads .env (or the given files) without overriding variables that
// are already set.
func LoadEnv(files ...string) {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		logging.Logger().Debug("No .env file found, using system envs")
		return
	}
	if err != nil {
		logging.Logger().Warnf("⚠️ Could not load .env: %v", err)
	}
}

func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}

// Password returns the sealing password, empty when parts are stored in the clear.
func Password() string {
	return GetEnv(PasswordKey, "")
}
