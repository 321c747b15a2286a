package inference

// Signal is the outcome of one Update tick. Larger values take priority.
type Signal int

const (
	SignalContinue Signal = iota
	SignalNetworkRecovered
	SignalTurnAdvanced
	// SignalDisconnected means the session was closed or gave up reconnecting.
	SignalDisconnected
	SignalGameEnded
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalNetworkRecovered:
		return "network_recovered"
	case SignalTurnAdvanced:
		return "turn_advanced"
	case SignalDisconnected:
		return "disconnected"
	case SignalGameEnded:
		return "game_ended"
	default:
		return "unknown"
	}
}

func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the driving loop should stop.
func (s Signal) Terminal() bool {
	return s == SignalDisconnected || s == SignalGameEnded
}

type UpdateResult struct {
	Signal Signal `json:"signal"`
	// Turn is the current turn after the tick.
	Turn int64 `json:"turn"`
	// Packets is the number of packets applied in the tick.
	Packets int `json:"packets"`
}

func (r *UpdateResult) raise(s Signal) {
	if s > r.Signal {
		r.Signal = s
	}
}
