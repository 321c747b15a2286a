package inference

import (
	"strconv"
	"strings"
	"time"

	"github.com/cbodonnell/civlink/pkg/config"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/network"
	"github.com/cbodonnell/civlink/pkg/packets"
	"github.com/cbodonnell/civlink/pkg/repositories"
)

const (
	DefaultMaxPacketsPerTick = 256
	DefaultStartTimeout      = 60 * time.Second
	DefaultActionRate        = 20
	DefaultActionBurst       = 5
)

// RequiredSetupKeys must be present in the params given to StartGame.
var RequiredSetupKeys = []string{"username", "server_host", "server_port", "ruleset", "topology"}

type NewHandlerOptions struct {
	// Dialer overrides the dialer chosen from the transport setup key.
	Dialer network.Dialer
	// Repository stores save blobs. Defaults to files addressed by path.
	Repository repositories.Repository
	// MaxPacketSize bounds the declared length of inbound and outbound packets.
	MaxPacketSize     int
	MaxPacketsPerTick int
	StartTimeout      time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	// MaxRetries is passed to the connection manager.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueueSize      int
	// ActionRate is the sustained number of actions per second.
	ActionRate    float64
	ActionBurst   int
	ClientVersion string
	Logger        *log.Logger
}

func (o *NewHandlerOptions) setDefaults() {
	if o.MaxPacketSize <= 0 {
		o.MaxPacketSize = packets.DefaultMaxPacketSize
	}
	if o.MaxPacketSize > packets.MaxFrameLength {
		o.MaxPacketSize = packets.MaxFrameLength
	}
	if o.MaxPacketsPerTick <= 0 {
		o.MaxPacketsPerTick = DefaultMaxPacketsPerTick
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = DefaultStartTimeout
	}
	if o.ActionRate <= 0 {
		o.ActionRate = DefaultActionRate
	}
	if o.ActionBurst <= 0 {
		o.ActionBurst = DefaultActionBurst
	}
	if o.Repository == nil {
		o.Repository = repositories.NewFileRepository("")
	}
	if o.Logger == nil {
		o.Logger = log.Component("inference")
	}
}

// setup is the validated form of the setup params.
type setup struct {
	endpoint network.Endpoint
	creds    network.Credentials
	ruleset  string
	topology string
}

func parseSetup(params config.Params) (setup, error) {
	for _, key := range RequiredSetupKeys {
		if _, ok := params.Get(key); !ok {
			return setup{}, &SetupError{MissingKey: key}
		}
	}

	port, err := strconv.Atoi(strings.TrimSpace(params["server_port"]))
	if err != nil || port <= 0 || port > 65535 {
		return setup{}, &SetupError{InvalidKey: "server_port", Reason: "must be a port number"}
	}
	transport := params.String("transport", network.TransportTCP)
	switch transport {
	case network.TransportTCP, network.TransportWebSocket, network.TransportSecureWebSocket:
	default:
		return setup{}, &SetupError{InvalidKey: "transport", Reason: "must be tcp, ws or wss"}
	}
	if _, err := params.Int("save_every_turns", 0); err != nil {
		return setup{}, &SetupError{InvalidKey: "save_every_turns", Reason: err.Error()}
	}

	return setup{
		endpoint: network.Endpoint{
			Host:      strings.TrimSpace(params["server_host"]),
			Port:      port,
			Transport: transport,
			Path:      params.String("ws_path", "/"),
		},
		creds: network.Credentials{
			Username: params["username"],
			Password: params["password"],
		},
		ruleset:  params["ruleset"],
		topology: params["topology"],
	}, nil
}
