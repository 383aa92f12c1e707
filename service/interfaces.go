package service

import (
	"context"
	"time"

	"derby/loop"
	"derby/models"
)

// PreferenceRepository is a key/value view over the logical preference stores
type PreferenceRepository interface {
	// Get returns the stored value; found is false when the key was never written
	Get(ctx context.Context, store models.PreferenceStore, key string) (value string, found bool, err error)

	// Set writes a value, replacing any previous one
	Set(ctx context.Context, store models.PreferenceStore, key, value string) error
}

// BalanceHistoryRepository defines the interface for the coin ledger
type BalanceHistoryRepository interface {
	// Record appends an entry and fills in its ID and CreatedAt
	Record(ctx context.Context, history *models.BalanceHistory) error

	// GetRecent returns up to limit entries, newest first
	GetRecent(ctx context.Context, limit int) ([]*models.BalanceHistory, error)
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Repository getters
	PreferenceRepository() PreferenceRepository
	BalanceHistoryRepository() BalanceHistoryRepository
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// Scheduler is the serial event loop every engine and audio callback runs on
type Scheduler interface {
	Now() time.Time
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) *loop.Timer
	Every(d time.Duration, fn func()) *loop.Timer
}

// SampleID identifies a loaded (or loading) effect sample
type SampleID int

// StreamID identifies a playing effect instance; zero means none
type StreamID int

// MusicPlayer is a prepared, looping background track
type MusicPlayer interface {
	Start() error
	Pause() error
	IsPlaying() bool
	SetVolume(volume float64)
	Release() error
}

// AudioBackend is the platform audio layer the session drives. Callbacks
// may arrive on any goroutine.
type AudioBackend interface {
	// OpenMusic prepares a looping player; onError reports playback failures
	OpenMusic(track models.TrackID, onError func(error)) (MusicPlayer, error)

	// LoadEffect starts loading a sample and reports completion through onLoaded
	LoadEffect(id models.EffectID, onLoaded func(SampleID, error)) (SampleID, error)

	// PlayEffect starts a loaded sample, looping it when loop is true
	PlayEffect(sample SampleID, volume float64, loop bool) (StreamID, error)

	// StopEffect stops a playing stream
	StopEffect(stream StreamID)

	// SetEffectVolume changes the volume of a playing stream
	SetEffectVolume(stream StreamID, volume float64)

	// RequestFocus asks the platform for audio focus; onChange receives later focus changes
	RequestFocus(onChange func(models.FocusChange)) models.FocusRequestResult

	// AbandonFocus gives audio focus back to the platform
	AbandonFocus()

	// Release frees every platform resource
	Release()
}

// Metrics records engine and audio counters
type Metrics interface {
	RecordBetPlaced(amount int64)
	RecordBetRejected(reason string)
	RecordRaceStarted(stake int64)
	RecordRaceFinished(winnings, losses int64)
	RecordAudioRecovery()
	RecordFocusChange(change string)
}

// NoopMetrics discards every measurement
type NoopMetrics struct{}

func (NoopMetrics) RecordBetPlaced(int64)           {}
func (NoopMetrics) RecordBetRejected(string)        {}
func (NoopMetrics) RecordRaceStarted(int64)         {}
func (NoopMetrics) RecordRaceFinished(int64, int64) {}
func (NoopMetrics) RecordAudioRecovery()            {}
func (NoopMetrics) RecordFocusChange(string)        {}
