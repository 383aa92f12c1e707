package service

import (
	"time"

	"derby/loop"
	"derby/models"

	log "github.com/sirupsen/logrus"
)

// raceAmbience is the gallop loop and the vocal scheduler. Both timers are
// owned here and cancelled together on stop.
type raceAmbience struct {
	active      bool
	gallop      StreamID
	gallopRetry *loop.Timer
	vocalTimer  *loop.Timer
}

// StartRaceAmbience starts the gallop loop and re-arms the vocal timer
func (a *AudioSession) StartRaceAmbience() {
	if a.released || a.prefs.MuteSfx {
		return
	}
	a.ambience.active = true
	a.ensureGallop()

	a.ambience.vocalTimer.Stop()
	a.scheduleVocal()
}

// StopRaceAmbience stops the gallop loop and cancels every ambience timer
func (a *AudioSession) StopRaceAmbience() {
	a.ambience.active = false
	if a.ambience.gallop != 0 {
		a.backend.StopEffect(a.ambience.gallop)
		a.ambience.gallop = 0
	}
	a.ambience.gallopRetry.Stop()
	a.ambience.gallopRetry = nil
	a.ambience.vocalTimer.Stop()
	a.ambience.vocalTimer = nil
}

// AmbienceActive reports whether race ambience is on
func (a *AudioSession) AmbienceActive() bool {
	return a.ambience.active
}

// AmbienceTimers returns how many ambience timers are armed
func (a *AudioSession) AmbienceTimers() int {
	n := 0
	if a.ambience.gallopRetry != nil {
		n++
	}
	if a.ambience.vocalTimer != nil {
		n++
	}
	return n
}

// ensureGallop starts the gallop loop, retrying until the sample is loaded
func (a *AudioSession) ensureGallop() {
	if !a.ambience.active || a.ambience.gallop != 0 {
		return
	}
	a.ambience.gallopRetry.Stop()
	a.ambience.gallopRetry = nil

	if sample, ready := a.sample(models.EffectHorseGalloping); ready {
		stream, err := a.backend.PlayEffect(sample, a.sfxVolume(), true)
		if err == nil && stream != 0 {
			a.ambience.gallop = stream
			return
		}
		log.WithError(err).Warn("Failed to start gallop loop")
	}

	a.ambience.gallopRetry = a.sched.AfterFunc(a.tuning.GallopRetry, func() {
		a.ambience.gallopRetry = nil
		a.ensureGallop()
	})
}

func (a *AudioSession) scheduleVocal() {
	window := (a.tuning.VocalDelayMax - a.tuning.VocalDelayMin).Milliseconds()
	delay := a.tuning.VocalDelayMin + time.Duration(a.rng.Int63n(window))*time.Millisecond
	a.ambience.vocalTimer = a.sched.AfterFunc(delay, a.playVocal)
}

func (a *AudioSession) playVocal() {
	a.ambience.vocalTimer = nil
	if !a.ambience.active {
		return
	}
	vocal := models.EffectHorseWhinny
	if a.rng.Intn(2) == 1 {
		vocal = models.EffectHorseNeigh
	}
	a.PlayOneShot(vocal)
	a.scheduleVocal()
}
