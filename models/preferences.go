package models

// PreferenceStore names a logical key/value store
type PreferenceStore string

const (
	StoreGame  PreferenceStore = "game"
	StoreAudio PreferenceStore = "audio"
)

// Preference keys
const (
	KeyUsername = "username"
	KeyCoins    = "coins"
	KeyFirstRun = "firstRun"
	KeyMuteSfx  = "muteSfx"
	KeyMuteBgm  = "muteBgm"
)

// GamePrefs is the persisted player profile
type GamePrefs struct {
	Username string
	Coins    int64
	FirstRun bool
}

// AudioPrefs is the persisted audio configuration
type AudioPrefs struct {
	MuteSfx bool
	MuteBgm bool
}

// Muted returns the mute flag for a channel
func (p AudioPrefs) Muted(channel Channel) bool {
	if channel == ChannelBgm {
		return p.MuteBgm
	}
	return p.MuteSfx
}
