package types

// Client -> Server
// join-room:
//   roomId: string
//   name: string
//
// start-game: {}
//
// player-typed:
//   text: string   (everything typed so far this round)
//   wpm: number
//
// leave: {}

// Server -> Client (payload field)
// welcome: { id }             connection id, sent once after connect
// players: Player[]           full roster, join order
// player-joined: Player
// player-left: string         connection id
// new-host: string            connection id
// game-started: string        round text
// player-score: { id, score, wpm }
// game-finished: (none)
// error: string               only to the offending connection

const (
	EventJoinRoom    = "join-room"
	EventStartGame   = "start-game"
	EventPlayerTyped = "player-typed"
	EventLeave       = "leave"

	EventWelcome      = "welcome"
	EventPlayers      = "players"
	EventPlayerJoined = "player-joined"
	EventPlayerLeft   = "player-left"
	EventNewHost      = "new-host"
	EventGameStarted  = "game-started"
	EventPlayerScore  = "player-score"
	EventGameFinished = "game-finished"
	EventError        = "error"
)

type ClientMessage struct {
	Type   string  `json:"type"`
	RoomID string  `json:"roomId,omitempty"`
	Name   string  `json:"name,omitempty"`
	Text   string  `json:"text,omitempty"`
	WPM    float64 `json:"wpm,omitempty"`
}

type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type Welcome struct {
	ID string `json:"id"`
}

type PlayerScore struct {
	ID    string  `json:"id"`
	Score int     `json:"score"`
	WPM   float64 `json:"wpm"`
}
