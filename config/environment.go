package config

import (
	"os"
	"strings"
)

// Environment is the deployment stage named by APP_ENV.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "config/config.yml"

// stageConfigPaths replace DefaultConfigPath outside development.
var stageConfigPaths = map[Environment]string{
	Production: "config/config.production.yml",
	Staging:    "config/config.staging.yml",
}

var stageAliases = map[string]Environment{
	"prod":        Production,
	"producation": Production,
	"stag":        Staging,
	"stagging":    Staging,
}

// ParseEnvironment normalises an APP_ENV value; empty means development.
func ParseEnvironment(s string) Environment {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Development
	}
	if env, ok := stageAliases[s]; ok {
		return env
	}
	return Environment(s)
}

// AppEnvironment reads APP_ENV.
func AppEnvironment() Environment {
	return ParseEnvironment(os.Getenv("APP_ENV"))
}

// ResolveConfigPath swaps the default path for the stage file of the current
// APP_ENV. Any other explicit path wins.
func ResolveConfigPath(path string) string {
	if path == "" {
		path = DefaultConfigPath
	}
	stagePath, ok := stageConfigPaths[AppEnvironment()]
	if ok && (path == DefaultConfigPath || path == stagePath) {
		return stagePath
	}
	return path
}

// IsProductionLike is true for stages that must start with at least one
// live connector.
func IsProductionLike(env Environment) bool {
	return env == Production || env == Staging
}
