package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable read by FromEnv.
const EnvPrefix = "CIVLINK_"

type environment struct {
	Username       string `env:"USERNAME"`
	Password       string `env:"PASSWORD"`
	ServerHost     string `env:"SERVER_HOST"`
	ServerPort     string `env:"SERVER_PORT"`
	Ruleset        string `env:"RULESET"`
	Topology       string `env:"TOPOLOGY"`
	Transport      string `env:"TRANSPORT"`
	WSPath         string `env:"WS_PATH"`
	SaveEveryTurns string `env:"SAVE_EVERY_TURNS"`
	SavePath       string `env:"SAVE_PATH"`
	Repository     string `env:"REPOSITORY"`
}

// FromEnv reads CIVLINK_* variables from the process environment.
func FromEnv() (Params, error) {
	return fromEnv(env.Options{Prefix: EnvPrefix})
}

// FromEnvironment reads CIVLINK_* variables from the given mapping.
func FromEnvironment(vars map[string]string) (Params, error) {
	return fromEnv(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func fromEnv(opts env.Options) (Params, error) {
	var e environment
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	out := make(Params)
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("username", e.Username)
	set("password", e.Password)
	set("server_host", e.ServerHost)
	set("server_port", e.ServerPort)
	set("ruleset", e.Ruleset)
	set("topology", e.Topology)
	set("transport", e.Transport)
	set("ws_path", e.WSPath)
	set("save_every_turns", e.SaveEveryTurns)
	set("save_path", e.SavePath)
	set("repository", e.Repository)
	return out, nil
}
