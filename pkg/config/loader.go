package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// EnvFileVar names an optional dotenv file that is loaded before parsing.
// Variables already present in the environment take precedence over the file.
const EnvFileVar = "ENV_FILE"

// Load parses environment variables into the provided struct, which should
// use `env` tags. If ENV_FILE is set, that file is loaded first.
//
//	type Config struct {
//	    Port     int    `env:"HTTP_PORT" envDefault:"8080"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if path := os.Getenv(EnvFileVar); path != "" {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("env file %s does not exist", path)
			}
			return fmt.Errorf("load env file %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
