package config

import (
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnv loads variables from a .env file when one is present.
// ENV_FILE overrides the file name. Variables already set in the
// environment win over the file.
func loadDotEnv() {
	file := os.Getenv("ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if _, err := os.Stat(file); err != nil {
		return
	}
	_ = godotenv.Load(file)
}
