package service

import "errors"

// Betting validation failures. Commands wrap them with detail; match with errors.Is.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrHorseAlreadyPicked = errors.New("horse already picked")
	ErrIndexOutOfRange    = errors.New("bet index out of range")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUnknownHorse       = errors.New("unknown horse")
	ErrRaceInProgress     = errors.New("race in progress")
	ErrInvalidUsername    = errors.New("invalid username")
)

// UserMessage returns a message suitable for showing to the player
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "You don't have enough coins for that bet."
	case errors.Is(err, ErrHorseAlreadyPicked):
		return "You already bet on that horse."
	case errors.Is(err, ErrIndexOutOfRange):
		return "That bet doesn't exist."
	case errors.Is(err, ErrInvalidAmount):
		return "Enter a positive amount."
	case errors.Is(err, ErrUnknownHorse):
		return "There is no horse with that number."
	case errors.Is(err, ErrRaceInProgress):
		return "Betting is closed until the race is over."
	case errors.Is(err, ErrInvalidUsername):
		return "Enter a name."
	default:
		return "Something went wrong."
	}
}
