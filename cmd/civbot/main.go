package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cbodonnell/civlink/pkg/api"
	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/cbodonnell/civlink/pkg/version"
	"github.com/cbodonnell/civlink/pkg/world"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML file of setup values")
	logLevel := flag.String("log-level", "info", "Log level")
	tick := flag.Duration("tick", 100*time.Millisecond, "Interval between updates")
	load := flag.String("load", "", "Print the status of a saved game and exit")
	saveOnExit := flag.Bool("save-on-exit", true, "Save the game when the bot stops")
	showStatus := flag.String("show-status", "", "Comma-separated namespaces to print after every turn")
	apiPort := flag.Int("api-port", 0, "Operator API port, 0 to disable")
	apiToken := flag.String("api-token", os.Getenv("CIVLINK_API_TOKEN"), "Bearer token required by the operator API")
	registerSetupFlags(flag.CommandLine)
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)
	log.Info("Starting %s", version.Get())

	params, err := loadParams(*configPath, nil, flagParams(flag.CommandLine))
	if err != nil {
		log.Error("Failed to load setup: %v", err)
		os.Exit(1)
	}
	statusNamespaces, err := parseNamespaces(*showStatus)
	if err != nil {
		log.Error("Failed to parse -show-status: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repository, err := repositories.Open(ctx, params["repository"])
	if err != nil {
		log.Error("Failed to open repository: %v", err)
		os.Exit(1)
	}
	defer repository.Close(context.Background())

	handler := inference.NewHandler(inference.NewHandlerOptions{
		Repository: repository,
	})

	var apiServer *api.APIServer
	w := world.NewWorld(world.NewWorldOptions{
		Game: handler,
		OnUpdate: func(res inference.UpdateResult) {
			if apiServer != nil {
				apiServer.Publish(res)
			}
		},
	})

	if *load != "" {
		if err := inspect(ctx, w, *load); err != nil {
			log.Error("Failed to load saved game: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := w.NewGame(params); err != nil {
		log.Error("Failed to set up game: %v", err)
		os.Exit(1)
	}

	if *apiPort > 0 {
		apiServer = api.NewAPIServer(api.NewAPIServerOptions{
			Port:       *apiPort,
			Game:       w,
			Repository: repository,
			Token:      *apiToken,
		})
		go apiServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop API server: %v", err)
			}
		}()
	}

	snap, err := w.StartGame(ctx)
	if err != nil {
		var setupErr *inference.SetupError
		var handshakeErr *inference.HandshakeError
		switch {
		case errors.As(err, &setupErr):
			log.Error("Invalid setup: %v", err)
		case errors.As(err, &handshakeErr):
			log.Error("Server refused login: %v", err)
		default:
			log.Error("Failed to start game: %v", err)
		}
		os.Exit(1)
	}
	log.Info("Joined game at turn %d as player %d", snap.Turn, snap.PlayerID)

	run(ctx, w, *tick, statusNamespaces)

	endCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.EndGame(endCtx, *saveOnExit); err != nil {
		log.Error("Failed to end game: %v", err)
	}
}

// run drives the world until the game stops or ctx is cancelled.
func run(ctx context.Context, w *world.World, interval time.Duration, statusNamespaces []attributes.Namespace) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			res := w.Update(ctx)
			if res.Signal == inference.SignalTurnAdvanced {
				log.Info("Turn %d", res.Turn)
				for _, ns := range statusNamespaces {
					if err := w.ShowStatus(os.Stdout, ns); err != nil {
						log.Warn("Failed to show %s status: %v", ns, err)
					}
				}
			}
			if !w.Running() {
				return
			}
		}
	}
}

func inspect(ctx context.Context, w *world.World, path string) error {
	snap, err := w.LoadSavedGame(ctx, path)
	if err != nil {
		return err
	}
	log.Info("Loaded %s at turn %d", path, snap.Turn)
	for _, ns := range attributes.Namespaces {
		if err := w.ShowStatus(os.Stdout, ns); err != nil {
			return err
		}
	}
	return nil
}

func parseNamespaces(s string) ([]attributes.Namespace, error) {
	var out []attributes.Namespace
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ns, err := attributes.ParseNamespace(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, nil
}
