package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	APIKey  string
	BaseURL string
	DBPath  string
	Addr    string
}

func Load() (Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	c := Config{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		DBPath:  os.Getenv("ZENITH_DB"),
		Addr:    os.Getenv("ZENITH_ADDR"),
	}

	if c.APIKey == "" {
		return c, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.DBPath == "" {
		c.DBPath = "zenith.db"
	}
	if c.Addr == "" {
		c.Addr = ":8100"
	}

	return c, nil
}
