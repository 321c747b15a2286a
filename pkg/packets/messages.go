package packets

// Login opens a session. ResumeSequence is the highest sequence the client has
// applied; a server may replay from there instead of sending a full dump.
type Login struct {
	Username       string `json:"username"`
	Password       string `json:"password,omitempty"`
	Ruleset        string `json:"ruleset"`
	Topology       string `json:"topology"`
	ClientVersion  string `json:"client_version"`
	ResumeSequence uint32 `json:"resume_sequence,omitempty"`
}

const (
	RejectAuth    = "auth"
	RejectRuleset = "ruleset"
)

type LoginReply struct {
	Accepted bool   `json:"accepted"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	PlayerID int64  `json:"player_id"`
	Session  string `json:"session,omitempty"`
}

type StateRequest struct {
	Reason string `json:"reason,omitempty"`
}

type GameStart struct {
	Turn     int64 `json:"turn"`
	PlayerID int64 `json:"player_id"`
}

type TurnEnd struct {
	Turn int64 `json:"turn"`
	Year int64 `json:"year,omitempty"`
}

type GameEnd struct {
	Reason string `json:"reason,omitempty"`
	Winner int64  `json:"winner,omitempty"`
}

type Heartbeat struct {
	ServerTime int64 `json:"server_time"`
}

type Pong struct {
	ServerTime int64 `json:"server_time"`
}

// Action is a player command. Kind is server-defined, e.g. unit_move or end_turn.
type Action struct {
	ID     uint32            `json:"id"`
	Kind   string            `json:"kind"`
	UnitID string            `json:"unit_id,omitempty"`
	X      int64             `json:"x,omitempty"`
	Y      int64             `json:"y,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

type ActionReply struct {
	ID       uint32 `json:"id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
