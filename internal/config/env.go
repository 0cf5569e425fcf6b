package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoadDotEnv loads a .env file into the process environment if present.
// Missing files are not an error; .env entries override variables that
// are already set in the environment (godotenv.Overload).
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Overload(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to load .env file")
	}
}
