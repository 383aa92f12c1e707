package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"derby/config"
	"derby/events"
	"derby/models"

	log "github.com/sirupsen/logrus"
)

// AudioSession owns background music, sound effects, audio focus and the
// race ambience. It follows the race engine through the event bus and
// never calls back into it. Every method must run on the scheduler's loop.
type AudioSession struct {
	tuning     config.AudioTuning
	sched      Scheduler
	backend    AudioBackend
	uowFactory UnitOfWorkFactory
	bus        *events.Bus
	rng        *rand.Rand
	metrics    Metrics
	ctx        context.Context

	prefs models.AudioPrefs

	music        MusicPlayer
	bgState      models.BackgroundState
	resumeOnGain bool // resume (or start) background when focus comes back
	hasFocus     bool
	focusPending bool // a delayed focus request is outstanding
	ducked       bool

	samples  map[models.EffectID]SampleID
	loaded   map[SampleID]bool
	ambience raceAmbience

	engineState   models.GameState
	dialogVisible bool
	inBackground  bool
	released      bool
	subs          []events.Subscription
}

// NewAudioSession loads the mute flags, subscribes to engine state changes
// and starts loading every effect
func NewAudioSession(ctx context.Context, tuning config.AudioTuning, sched Scheduler, backend AudioBackend, uowFactory UnitOfWorkFactory, bus *events.Bus, rng *rand.Rand, metrics Metrics) (*AudioSession, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	a := &AudioSession{
		tuning:      tuning,
		sched:       sched,
		backend:     backend,
		uowFactory:  uowFactory,
		bus:         bus,
		rng:         rng,
		metrics:     metrics,
		ctx:         ctx,
		bgState:     models.BackgroundStopped,
		samples:     make(map[models.EffectID]SampleID),
		loaded:      make(map[SampleID]bool),
		engineState: models.GameStateIdle,
	}

	err := withUnitOfWork(ctx, uowFactory, func(uow UnitOfWork) error {
		var err error
		a.prefs, err = loadAudioPrefs(ctx, uow.PreferenceRepository())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load audio preferences: %w", err)
	}

	a.subs = append(a.subs, bus.Subscribe(events.EventTypeGameStateChanged, a.onGameStateChanged))
	a.Preload()

	log.WithFields(log.Fields{
		"muteSfx": a.prefs.MuteSfx,
		"muteBgm": a.prefs.MuteBgm,
	}).Info("Audio session ready")

	return a, nil
}

// Muted returns the mute flag for a channel
func (a *AudioSession) Muted(channel models.Channel) bool {
	return a.prefs.Muted(channel)
}

// BackgroundStatus returns the background channel state and whether a
// pause will be undone when focus returns
func (a *AudioSession) BackgroundStatus() (state models.BackgroundState, resumable bool) {
	return a.bgState, a.bgState == models.BackgroundPaused && a.resumeOnGain
}

// HasFocus reports whether the session holds audio focus
func (a *AudioSession) HasFocus() bool { return a.hasFocus }

// Ducked reports whether volumes are lowered for a shared focus loss
func (a *AudioSession) Ducked() bool { return a.ducked }

// Preload requests every known effect so later one-shots are ready
func (a *AudioSession) Preload() {
	for _, id := range models.AllEffects {
		a.sample(id)
	}
}

// StartBackgroundLoop starts or resumes the background music. Without
// focus it asks for it and starts once focus is granted.
func (a *AudioSession) StartBackgroundLoop() {
	if a.released || a.prefs.MuteBgm {
		return
	}
	if !a.requestFocus() {
		a.resumeOnGain = true
		log.Debug("Background music deferred until audio focus is granted")
		return
	}

	if a.music == nil {
		if err := a.openMusic(); err != nil {
			log.WithError(err).Error("Failed to prepare background music")
			return
		}
	}

	a.resumeOnGain = false
	a.music.SetVolume(a.bgmVolume())
	if a.music.IsPlaying() {
		a.bgState = models.BackgroundPlaying
		return
	}
	if err := a.music.Start(); err != nil {
		log.WithError(err).Warn("Background music failed to start, recreating player")
		a.metrics.RecordAudioRecovery()
		a.recreateMusic(true)
		return
	}
	a.bgState = models.BackgroundPlaying
}

// PauseBackgroundLoop pauses the background music without auto-resume
func (a *AudioSession) PauseBackgroundLoop() {
	a.pauseBackground(false)
}

// StopBackgroundLoop releases the player and gives up audio focus
func (a *AudioSession) StopBackgroundLoop() {
	if a.music != nil {
		if err := a.music.Release(); err != nil {
			log.WithError(err).Warn("Failed to release background music")
		}
		a.music = nil
	}
	a.bgState = models.BackgroundStopped
	a.resumeOnGain = false
	a.abandonFocus()
}

// SetMuted persists a channel's mute flag and applies it immediately
func (a *AudioSession) SetMuted(ctx context.Context, channel models.Channel, muted bool) {
	if a.prefs.Muted(channel) == muted {
		return
	}
	if channel == models.ChannelBgm {
		a.prefs.MuteBgm = muted
	} else {
		a.prefs.MuteSfx = muted
	}

	err := withUnitOfWork(ctx, a.uowFactory, func(uow UnitOfWork) error {
		return saveMute(ctx, uow.PreferenceRepository(), channel, muted)
	})
	if err != nil {
		log.WithFields(log.Fields{
			"channel": channel,
			"muted":   muted,
		}).WithError(err).Error("Failed to persist mute flag")
	}

	log.WithFields(log.Fields{
		"channel": channel,
		"muted":   muted,
	}).Info("Mute changed")
	a.bus.Emit(ctx, events.MuteChangedEvent{Channel: channel, Muted: muted})

	switch channel {
	case models.ChannelSfx:
		if muted {
			a.StopRaceAmbience()
		} else if a.engineState == models.GameStateRunning && !a.inBackground {
			a.StartRaceAmbience()
		}
	case models.ChannelBgm:
		if muted {
			a.pauseBackground(false)
			a.abandonFocus()
		} else if a.backgroundAllowed() {
			a.StartBackgroundLoop()
		}
	}
}

// PlayOneShot plays an effect once. It is dropped if effects are muted or
// the sample has not finished loading.
func (a *AudioSession) PlayOneShot(effect models.EffectID) {
	if a.released || a.prefs.MuteSfx {
		return
	}
	sample, ready := a.sample(effect)
	if !ready {
		log.WithField("effect", effect).Debug("Effect not loaded yet, dropping")
		return
	}
	if _, err := a.backend.PlayEffect(sample, a.sfxVolume(), false); err != nil {
		log.WithField("effect", effect).WithError(err).Warn("Failed to play effect")
	}
}

// OnFocusChange applies a system audio focus change
func (a *AudioSession) OnFocusChange(change models.FocusChange) {
	if a.released {
		return
	}
	a.metrics.RecordFocusChange(string(change))
	log.WithField("change", change).Debug("Audio focus changed")

	switch change {
	case models.FocusGain:
		a.hasFocus = true
		a.focusPending = false
		a.setDucked(false)
		if a.resumeOnGain {
			a.resumeOnGain = false
			a.StartBackgroundLoop()
		}
	case models.FocusLossTransientCanDuck:
		a.setDucked(true)
	case models.FocusLossTransient:
		a.pauseBackground(true)
		a.setDucked(false)
	case models.FocusLoss:
		a.pauseBackground(false)
		a.setDucked(false)
		a.abandonFocus()
	}
}

// OnAppForeground resumes what the app was doing before it was hidden
func (a *AudioSession) OnAppForeground() {
	a.inBackground = false
	if a.engineState == models.GameStateRunning {
		a.StartRaceAmbience()
	}
	if a.backgroundAllowed() {
		a.StartBackgroundLoop()
	}
}

// OnAppBackground silences everything and gives focus back
func (a *AudioSession) OnAppBackground() {
	a.inBackground = true
	a.pauseBackground(false)
	a.abandonFocus()
	a.StopRaceAmbience()
}

// OnResultDialogShown blocks background resume while results are on screen
func (a *AudioSession) OnResultDialogShown() {
	a.dialogVisible = true
}

// OnResultDialogDismissed resumes background music if nothing else blocks it
func (a *AudioSession) OnResultDialogDismissed() {
	a.dialogVisible = false
	if a.backgroundAllowed() {
		a.StartBackgroundLoop()
	}
}

// Close stops all playback, cancels every pending timer and releases the
// backend. The session is unusable afterwards.
func (a *AudioSession) Close() {
	if a.released {
		return
	}
	for _, sub := range a.subs {
		sub.Unsubscribe()
	}
	a.subs = nil
	a.StopRaceAmbience()
	a.StopBackgroundLoop()
	a.backend.Release()
	a.released = true
	log.Info("Audio session released")
}

func (a *AudioSession) onGameStateChanged(ctx context.Context, event events.Event) {
	change, ok := event.(events.GameStateChangedEvent)
	if !ok {
		return
	}
	a.engineState = change.NewState

	if change.NewState.InRace() {
		a.pauseBackground(false)
	}
	if change.OldState == models.GameStateRunning && change.NewState != models.GameStateRunning {
		a.StopRaceAmbience()
	}
	if change.NewState == models.GameStateRunning && !a.inBackground {
		a.StartRaceAmbience()
	}
}

func (a *AudioSession) backgroundAllowed() bool {
	return !a.released && !a.inBackground && !a.dialogVisible && !a.engineState.InRace()
}

// pauseBackground pauses playback. With resumable set, focus regain will
// resume it if it was actually playing.
func (a *AudioSession) pauseBackground(resumable bool) {
	wasPlaying := a.music != nil && a.music.IsPlaying()
	if wasPlaying {
		if err := a.music.Pause(); err != nil {
			log.WithError(err).Warn("Failed to pause background music")
		}
	}
	if a.bgState == models.BackgroundPlaying {
		a.bgState = models.BackgroundPaused
	}
	a.resumeOnGain = resumable && wasPlaying
}

func (a *AudioSession) requestFocus() bool {
	if a.hasFocus {
		return true
	}
	switch a.backend.RequestFocus(a.postFocusChange) {
	case models.FocusRequestGranted:
		a.hasFocus = true
		a.focusPending = false
		return true
	case models.FocusRequestDelayed:
		a.focusPending = true
		return false
	default:
		log.Warn("Audio focus request failed")
		return false
	}
}

func (a *AudioSession) abandonFocus() {
	if !a.hasFocus && !a.focusPending {
		return
	}
	a.backend.AbandonFocus()
	a.hasFocus = false
	a.focusPending = false
}

// postFocusChange moves backend focus callbacks onto the loop
func (a *AudioSession) postFocusChange(change models.FocusChange) {
	a.sched.Post(func() { a.OnFocusChange(change) })
}

func (a *AudioSession) openMusic() error {
	player, err := a.backend.OpenMusic(models.TrackBackground, func(err error) {
		a.sched.Post(func() { a.onMusicError(err) })
	})
	if err != nil {
		return fmt.Errorf("failed to open background track: %w", err)
	}
	player.SetVolume(a.bgmVolume())
	a.music = player
	return nil
}

// onMusicError replaces a player the platform tore down. Playback resumes
// only if it was playing before.
func (a *AudioSession) onMusicError(err error) {
	if a.released {
		return
	}
	log.WithError(err).Warn("Background music player failed, recreating")
	a.metrics.RecordAudioRecovery()
	a.recreateMusic(a.bgState == models.BackgroundPlaying)
}

func (a *AudioSession) recreateMusic(restart bool) {
	if a.music != nil {
		if err := a.music.Release(); err != nil {
			log.WithError(err).Debug("Failed to release broken player")
		}
		a.music = nil
	}
	if err := a.openMusic(); err != nil {
		log.WithError(err).Error("Failed to recreate background music")
		a.bgState = models.BackgroundStopped
		return
	}
	if !restart || a.prefs.MuteBgm || !a.hasFocus {
		if a.bgState == models.BackgroundPlaying {
			a.bgState = models.BackgroundPaused
		}
		return
	}
	if err := a.music.Start(); err != nil {
		log.WithError(err).Error("Recreated background music failed to start")
		a.bgState = models.BackgroundStopped
		return
	}
	a.bgState = models.BackgroundPlaying
}

func (a *AudioSession) setDucked(ducked bool) {
	if a.ducked == ducked {
		return
	}
	a.ducked = ducked
	if a.music != nil {
		a.music.SetVolume(a.bgmVolume())
	}
	if a.ambience.gallop != 0 {
		a.backend.SetEffectVolume(a.ambience.gallop, a.sfxVolume())
	}
}

func (a *AudioSession) bgmVolume() float64 {
	if a.ducked {
		return a.tuning.BgmDuckVolume
	}
	return a.tuning.BgmVolume
}

func (a *AudioSession) sfxVolume() float64 {
	if a.ducked {
		return a.tuning.SfxDuckVolume
	}
	return a.tuning.SfxVolume
}

// sample returns the sample for an effect, starting the load on first
// use. ready is false until the backend reports it loaded.
func (a *AudioSession) sample(effect models.EffectID) (id SampleID, ready bool) {
	if id, ok := a.samples[effect]; ok {
		return id, a.loaded[id]
	}
	id, err := a.backend.LoadEffect(effect, func(loadedID SampleID, err error) {
		a.sched.Post(func() { a.onSampleLoaded(effect, loadedID, err) })
	})
	if err != nil {
		log.WithField("effect", effect).WithError(err).Warn("Failed to load effect")
		return 0, false
	}
	a.samples[effect] = id
	return id, a.loaded[id]
}

func (a *AudioSession) onSampleLoaded(effect models.EffectID, id SampleID, err error) {
	if err != nil {
		// forget it so the next use retries the load
		log.WithField("effect", effect).WithError(err).Warn("Effect failed to load")
		if a.samples[effect] == id {
			delete(a.samples, effect)
		}
		return
	}
	a.loaded[id] = true
}
