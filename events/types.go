package events

import (
	"derby/models"

	"github.com/google/uuid"
)

// GameStateChangedEvent is emitted on every engine state transition
type GameStateChangedEvent struct {
	OldState models.GameState
	NewState models.GameState
	RaceID   uuid.UUID // zero outside a race
}

func (e GameStateChangedEvent) Type() EventType {
	return EventTypeGameStateChanged
}

// CountdownChangedEvent carries the countdown value; Active is false when
// the countdown is cleared.
type CountdownChangedEvent struct {
	Value  int
	Active bool
}

func (e CountdownChangedEvent) Type() EventType {
	return EventTypeCountdownChanged
}

// HorsesUpdatedEvent carries a fresh snapshot of every horse
type HorsesUpdatedEvent struct {
	Horses []models.Horse
}

func (e HorsesUpdatedEvent) Type() EventType {
	return EventTypeHorsesUpdated
}

// BetsChangedEvent carries the current bet list and stake
type BetsChangedEvent struct {
	Bets       []models.Bet
	TotalStake int64
	Picked     map[int]bool
}

func (e BetsChangedEvent) Type() EventType {
	return EventTypeBetsChanged
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	OldBalance      int64
	NewBalance      int64
	TransactionType models.TransactionType
	ChangeAmount    int64
	RaceID          uuid.UUID
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// RaceFinishedEvent carries the payout snapshot of a completed race
type RaceFinishedEvent struct {
	Result *models.RaceResult
}

func (e RaceFinishedEvent) Type() EventType {
	return EventTypeRaceFinished
}

// RaceResultClearedEvent is emitted when the last result is wiped
type RaceResultClearedEvent struct{}

func (e RaceResultClearedEvent) Type() EventType {
	return EventTypeRaceResultCleared
}

// UserChangedEvent is emitted when the player profile changes
type UserChangedEvent struct {
	Username string
	FirstRun bool
}

func (e UserChangedEvent) Type() EventType {
	return EventTypeUserChanged
}

// MuteChangedEvent is emitted when a channel's mute flag changes
type MuteChangedEvent struct {
	Channel models.Channel
	Muted   bool
}

func (e MuteChangedEvent) Type() EventType {
	return EventTypeMuteChanged
}

// ResultDialogChangedEvent tells the UI to show or hide the result dialog
type ResultDialogChangedEvent struct {
	Visible bool
	Result  *models.RaceResult
}

func (e ResultDialogChangedEvent) Type() EventType {
	return EventTypeResultDialogChanged
}
