package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

const (
	DefaultPort = "8080"
)

// Env is the process configuration taken from the environment, after an
// optional .env file has been loaded.
type Env struct {
	LogLevel  string
	DBConnStr string // Empty when no ledger database is configured
	Port      string
}

// LoadEnv loads the given .env files (".env" when none given) without
// overriding variables already set, then reads the environment. Missing
// files are not an error; the returned bool reports whether any was loaded.
func LoadEnv(files ...string) (Env, bool) {
	loaded := godotenv.Load(files...) == nil
	return EnvFromOS(), loaded
}

func EnvFromOS() Env {
	env := Env{
		LogLevel:  os.Getenv("LOG_LEVEL"),
		DBConnStr: os.Getenv("LOOPER_DB"),
		Port:      os.Getenv("LOOPER_PORT"),
	}
	if env.Port == "" {
		env.Port = DefaultPort
	}
	if env.DBConnStr == "" {
		env.DBConnStr = connStrFromParts()
	}
	return env
}

// connStrFromParts builds a postgres URL from DB_* variables, or returns ""
// when any of them is missing.
func connStrFromParts() string {
	dbUsername := os.Getenv("DB_USERNAME")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbName := os.Getenv("DB_NAME")
	if dbUsername == "" || dbPassword == "" || dbHost == "" || dbPort == "" || dbName == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		dbUsername, dbPassword, dbHost, dbPort, dbName)
}
