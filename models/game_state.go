package models

// GameState is the race engine lifecycle state
type GameState string

const (
	GameStateIdle      GameState = "idle"
	GameStateCountdown GameState = "countdown"
	GameStateRunning   GameState = "running"
	GameStateResult    GameState = "result"
)

// InRace reports whether a race is counting down or running
func (s GameState) InRace() bool {
	return s == GameStateCountdown || s == GameStateRunning
}

func (s GameState) String() string {
	return string(s)
}
