package models

// Channel identifies one of the two audio channels
type Channel string

const (
	ChannelSfx Channel = "sfx"
	ChannelBgm Channel = "bgm"
)

// EffectID names a short sound effect sample
type EffectID string

const (
	EffectMouseClick     EffectID = "mouse_click"
	EffectRaceStartBeeps EffectID = "race_start_beeps"
	EffectHorseWhinny    EffectID = "horse_whinny"
	EffectFanfare        EffectID = "fanfare"
	EffectHorseGalloping EffectID = "horse_galloping"
	EffectHorseNeigh     EffectID = "horse_neigh"
)

// AllEffects lists every effect the game ships with
var AllEffects = []EffectID{
	EffectMouseClick,
	EffectRaceStartBeeps,
	EffectHorseWhinny,
	EffectFanfare,
	EffectHorseGalloping,
	EffectHorseNeigh,
}

// TrackID names a background music track
type TrackID string

const TrackBackground TrackID = "background_music"

// FocusChange is a system audio focus notification
type FocusChange string

const (
	FocusGain                 FocusChange = "gain"
	FocusLoss                 FocusChange = "loss"
	FocusLossTransient        FocusChange = "loss_transient"
	FocusLossTransientCanDuck FocusChange = "loss_transient_can_duck"
)

// FocusRequestResult is the answer to a focus request
type FocusRequestResult int

const (
	FocusRequestFailed FocusRequestResult = iota
	FocusRequestGranted
	FocusRequestDelayed
)

// BackgroundState is the playback state of the background channel
type BackgroundState string

const (
	BackgroundStopped BackgroundState = "stopped"
	BackgroundPlaying BackgroundState = "playing"
	BackgroundPaused  BackgroundState = "paused"
)
