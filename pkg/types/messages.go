// Package types holds the websocket wire frames shared between the server
// and game clients. Every frame carries a Type discriminator so clients can
// route on a single field.
package types

// Frame type values.
const (
	FrameConnected   = "connected"
	FrameGameState   = "game_state"
	FrameSubmitAck   = "submit_ack"
	FrameLeaderboard = "leaderboard"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameError       = "error"

	// Client -> server.
	FrameSubmitAnswer = "submit_answer"
	FrameGetState     = "get_state"
)

// ClientFrame is what the read loop decodes. Fields beyond Type are only
// meaningful for some frame types.
type ClientFrame struct {
	Type   string `json:"type"`
	Answer string `json:"answer,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
}

type ConnectedFrame struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

// GameStateFrame wraps the per-viewer room snapshot. State is left untyped
// here so the transport does not depend on the game package.
type GameStateFrame struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

type SubmitAckFrame struct {
	Type          string  `json:"type"`
	TurnNumber    int     `json:"turn_number"`
	Points        int     `json:"points"`
	ScoringSource string  `json:"scoring_source"`
	Feedback      string  `json:"feedback"`
	CorrectAnswer string  `json:"correct_answer"`
	GameOver      bool    `json:"game_over"`
	WinnerID      *string `json:"winner_id,omitempty"`
}

type LeaderboardFrame struct {
	Type    string `json:"type"`
	Entries any    `json:"entries"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Code: code, Message: message}
}
