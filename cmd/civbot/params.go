package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/cbodonnell/civlink/pkg/config"
)

// setupFlags maps command-line flags to setup keys.
var setupFlags = map[string]string{
	"username":    "username",
	"password":    "password",
	"server-host": "server_host",
	"server-port": "server_port",
	"ruleset":     "ruleset",
	"topology":    "topology",
	"transport":   "transport",
	"ws-path":     "ws_path",
	"save-every":  "save_every_turns",
	"save-path":   "save_path",
	"repository":  "repository",
}

func registerSetupFlags(fs *flag.FlagSet) {
	for name, key := range setupFlags {
		fs.String(name, "", fmt.Sprintf("Setup value for %s", key))
	}
}

// flagParams returns the setup flags that were set explicitly.
func flagParams(fs *flag.FlagSet) config.Params {
	out := make(config.Params)
	fs.Visit(func(f *flag.Flag) {
		if key, ok := setupFlags[f.Name]; ok {
			out[key] = f.Value.String()
		}
	})
	return out
}

// loadParams layers the config file, the environment and the flags.
func loadParams(path string, env map[string]string, flags config.Params) (config.Params, error) {
	var file config.Params
	if strings.TrimSpace(path) != "" {
		var err error
		if file, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	var fromEnv config.Params
	var err error
	if env == nil {
		fromEnv, err = config.FromEnv()
	} else {
		fromEnv, err = config.FromEnvironment(env)
	}
	if err != nil {
		return nil, err
	}
	return config.Merge(file, fromEnv, flags), nil
}
