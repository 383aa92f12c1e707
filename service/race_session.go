package service

import (
	"math/rand"
	"time"

	"derby/config"
	"derby/loop"
	"derby/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RaceSession holds everything scoped to a single race. A new session is
// created by every StartRace, so boost and burst never leak between races.
type RaceSession struct {
	ID             uuid.UUID
	BoostedHorse   int
	BurstActivated bool
	Bets           []models.Bet // the bets staked when the race started
	Stake          int64
	StartedAt      time.Time

	countdown      int
	countdownTimer *loop.Timer
	ticker         *loop.Timer
}

// SessionInfo is a read-only view of the current race session
type SessionInfo struct {
	ID             uuid.UUID
	BoostedHorse   int
	BurstActivated bool
	Stake          int64
}

func newRaceSession(bets []models.Bet, boosted int, startedAt time.Time) *RaceSession {
	staked := append([]models.Bet(nil), bets...)
	return &RaceSession{
		ID:           uuid.New(),
		BoostedHorse: boosted,
		Bets:         staked,
		Stake:        models.TotalStake(staked),
		StartedAt:    startedAt,
	}
}

func (s *RaceSession) info() SessionInfo {
	return SessionInfo{
		ID:             s.ID,
		BoostedHorse:   s.BoostedHorse,
		BurstActivated: s.BurstActivated,
		Stake:          s.Stake,
	}
}

// stopTimers cancels the countdown and the simulation ticker
func (s *RaceSession) stopTimers() {
	s.countdownTimer.Stop()
	s.countdownTimer = nil
	s.ticker.Stop()
	s.ticker = nil
}

// movement returns this tick's distance for h. The burst latch is checked
// against the position at the start of the tick and never resets.
func (s *RaceSession) movement(h *models.Horse, tuning config.RaceTuning, rng *rand.Rand) float64 {
	if h.Number != s.BoostedHorse {
		return sample(tuning.NormalSpeed, rng)
	}
	if !s.BurstActivated && h.Position >= tuning.BurstTrigger {
		s.BurstActivated = true
		log.WithFields(log.Fields{
			"raceID":   s.ID,
			"horse":    h.Number,
			"position": h.Position,
		}).Debug("Boosted horse burst activated")
	}
	if s.BurstActivated {
		return sample(tuning.BurstSpeed, rng)
	}
	return sample(tuning.BoostedSpeed, rng)
}

// sample draws uniformly from [r.Min, r.Max)
func sample(r config.SpeedRange, rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}
