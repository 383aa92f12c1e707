package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"derby/config"
	"derby/events"
	"derby/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// RaceEngine owns the horses, the bets, the coin balance and the race state
// machine. Every method must be called on the scheduler's loop.
type RaceEngine struct {
	tuning      config.RaceTuning
	multipliers []decimal.Decimal
	sched       Scheduler
	uowFactory  UnitOfWorkFactory
	bus         *events.Bus
	rng         *rand.Rand
	metrics     Metrics
	ctx         context.Context // used by timer callbacks

	state     models.GameState
	username  string
	coins     int64
	firstRun  bool
	horses    []*models.Horse
	bets      []models.Bet
	picked    map[int]bool
	countdown *int
	result    *models.RaceResult
	session   *RaceSession
}

// NewRaceEngine creates the engine and loads the persisted player profile.
// On first launch the initial balance is written to the ledger.
func NewRaceEngine(ctx context.Context, tuning config.RaceTuning, sched Scheduler, uowFactory UnitOfWorkFactory, bus *events.Bus, rng *rand.Rand, metrics Metrics) (*RaceEngine, error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	e := &RaceEngine{
		tuning:      tuning,
		multipliers: tuning.Multipliers(),
		sched:       sched,
		uowFactory:  uowFactory,
		bus:         bus,
		rng:         rng,
		metrics:     metrics,
		ctx:         ctx,
		state:       models.GameStateIdle,
		picked:      make(map[int]bool),
	}
	e.horses = make([]*models.Horse, tuning.TotalHorses)
	for i := range e.horses {
		e.horses[i] = models.NewHorse(i + 1)
	}

	err := withUnitOfWork(ctx, uowFactory, func(uow UnitOfWork) error {
		prefs, found, err := loadGamePrefs(ctx, uow.PreferenceRepository(), tuning.InitialCoins)
		if err != nil {
			return err
		}
		e.username = prefs.Username
		e.coins = prefs.Coins
		e.firstRun = prefs.FirstRun

		if found {
			return nil
		}
		if err := saveGamePrefs(ctx, uow.PreferenceRepository(), prefs); err != nil {
			return err
		}
		history := newBalanceHistory(0, prefs.Coins, models.TransactionTypeInitial, uuid.Nil, nil)
		return RecordBalanceChange(ctx, uow, history)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load player profile: %w", err)
	}

	log.WithFields(log.Fields{
		"username": e.username,
		"coins":    e.coins,
		"firstRun": e.firstRun,
	}).Info("Race engine ready")

	return e, nil
}

// State returns the current lifecycle state
func (e *RaceEngine) State() models.GameState { return e.state }

// Coins returns the current balance
func (e *RaceEngine) Coins() int64 { return e.coins }

// Username returns the player name, empty until set
func (e *RaceEngine) Username() string { return e.username }

// FirstRun reports whether the player has not picked a name yet
func (e *RaceEngine) FirstRun() bool { return e.firstRun }

// Bets returns a copy of the current bet list
func (e *RaceEngine) Bets() []models.Bet {
	return append([]models.Bet(nil), e.bets...)
}

// TotalStake sums the current bets
func (e *RaceEngine) TotalStake() int64 {
	return models.TotalStake(e.bets)
}

// Horses returns a snapshot of every horse in number order
func (e *RaceEngine) Horses() []models.Horse {
	return snapshotHorses(e.horses)
}

// IsPicked reports whether the horse already has a bet
func (e *RaceEngine) IsPicked(horseNumber int) bool {
	return e.picked[horseNumber]
}

// Picked returns a copy of the picked-set
func (e *RaceEngine) Picked() map[int]bool {
	return copyPicked(e.picked)
}

// Countdown returns the countdown value; ok is false outside a countdown
func (e *RaceEngine) Countdown() (value int, ok bool) {
	if e.countdown == nil {
		return 0, false
	}
	return *e.countdown, true
}

// LastResult returns the result of the last completed race, or nil
func (e *RaceEngine) LastResult() *models.RaceResult {
	return e.result.Clone()
}

// Session returns the current race session; ok is false when there is none
func (e *RaceEngine) Session() (info SessionInfo, ok bool) {
	if e.session == nil {
		return SessionInfo{}, false
	}
	return e.session.info(), true
}

// BalanceHistory returns up to limit ledger entries, newest first
func (e *RaceEngine) BalanceHistory(ctx context.Context, limit int) ([]*models.BalanceHistory, error) {
	var history []*models.BalanceHistory
	err := withUnitOfWork(ctx, e.uowFactory, func(uow UnitOfWork) error {
		var err error
		history, err = uow.BalanceHistoryRepository().GetRecent(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read balance history: %w", err)
	}
	return history, nil
}

// PlaceBet stakes amount on a horse. Nothing changes when it fails.
func (e *RaceEngine) PlaceBet(ctx context.Context, horseNumber int, amount int64) error {
	if e.state.InRace() {
		return e.reject("race_in_progress", fmt.Errorf("%w: betting is closed during %s", ErrRaceInProgress, e.state))
	}
	if amount <= 0 {
		return e.reject("invalid_amount", fmt.Errorf("%w: bet amount must be positive, got %d", ErrInvalidAmount, amount))
	}
	if e.horse(horseNumber) == nil {
		return e.reject("unknown_horse", fmt.Errorf("%w: no horse numbered %d", ErrUnknownHorse, horseNumber))
	}
	if available := e.coins - e.TotalStake(); amount > available {
		return e.reject("insufficient_funds", fmt.Errorf("%w: insufficient balance: have %d, need %d", ErrInsufficientFunds, available, amount))
	}
	if e.picked[horseNumber] {
		return e.reject("horse_already_picked", fmt.Errorf("%w: horse %d already has a bet", ErrHorseAlreadyPicked, horseNumber))
	}

	e.bets = append(e.bets, models.Bet{HorseNumber: horseNumber, Amount: amount})
	e.picked[horseNumber] = true
	e.metrics.RecordBetPlaced(amount)

	log.WithFields(log.Fields{
		"horse":      horseNumber,
		"amount":     amount,
		"totalStake": e.TotalStake(),
	}).Debug("Bet placed")

	tx := events.NewTransactionalBus(e.bus)
	e.publishBets(tx)
	tx.Flush(ctx)
	return nil
}

// RemoveBet removes the bet at index and frees its horse
func (e *RaceEngine) RemoveBet(ctx context.Context, index int) error {
	if index < 0 || index >= len(e.bets) {
		return fmt.Errorf("%w: index %d, have %d bets", ErrIndexOutOfRange, index, len(e.bets))
	}

	removed := e.bets[index]
	e.bets = append(e.bets[:index:index], e.bets[index+1:]...)
	delete(e.picked, removed.HorseNumber)

	log.WithFields(log.Fields{
		"horse":  removed.HorseNumber,
		"amount": removed.Amount,
	}).Debug("Bet removed")

	tx := events.NewTransactionalBus(e.bus)
	e.publishBets(tx)
	tx.Flush(ctx)
	return nil
}

// CanStartRace reports whether there is at least one bet and the balance covers the stake
func (e *RaceEngine) CanStartRace() bool {
	return len(e.bets) > 0 && e.TotalStake() <= e.coins
}

// StartRace deducts the stake and begins the countdown. It reports false,
// changing nothing, when CanStartRace is false or a race is already on.
func (e *RaceEngine) StartRace(ctx context.Context) bool {
	if e.state.InRace() || !e.CanStartRace() {
		log.WithFields(log.Fields{
			"state": e.state,
			"bets":  len(e.bets),
		}).Debug("Start race ignored")
		return false
	}

	boosted := e.horses[e.rng.Intn(len(e.horses))].Number
	session := newRaceSession(e.bets, boosted, e.sched.Now())
	e.session = session

	before := e.coins
	e.coins -= session.Stake
	e.bets = nil
	e.picked = make(map[int]bool)
	e.resetHorses()

	history := newBalanceHistory(before, e.coins, models.TransactionTypeRaceStake, session.ID, map[string]any{
		"bets":          len(session.Bets),
		"boosted_horse": boosted,
	})
	e.persist(ctx, "start_race", func(uow UnitOfWork) error {
		if err := saveCoins(ctx, uow.PreferenceRepository(), e.coins); err != nil {
			return err
		}
		return RecordBalanceChange(ctx, uow, history)
	})

	e.metrics.RecordRaceStarted(session.Stake)
	log.WithFields(log.Fields{
		"raceID":  session.ID,
		"stake":   session.Stake,
		"balance": e.coins,
	}).Info("Race started")

	tx := events.NewTransactionalBus(e.bus)
	tx.Publish(balanceChangeEvent(history, session.ID))
	e.publishBets(tx)
	e.publishHorses(tx)
	e.setState(tx, models.GameStateCountdown)
	session.countdown = e.tuning.CountdownStart
	e.setCountdown(tx, &session.countdown)
	tx.Flush(ctx)

	session.countdownTimer = e.sched.AfterFunc(e.tuning.CountdownStep, func() { e.countdownStep(session) })
	return true
}

// countdownStep emits the next countdown value, or starts the race one
// step after "0" has been shown
func (e *RaceEngine) countdownStep(s *RaceSession) {
	if e.session != s || e.state != models.GameStateCountdown {
		return
	}
	s.countdownTimer = nil

	tx := events.NewTransactionalBus(e.bus)
	if s.countdown > 0 {
		s.countdown--
		e.setCountdown(tx, &s.countdown)
		tx.Flush(e.ctx)
		s.countdownTimer = e.sched.AfterFunc(e.tuning.CountdownStep, func() { e.countdownStep(s) })
		return
	}

	e.setCountdown(tx, nil)
	e.setState(tx, models.GameStateRunning)
	tx.Flush(e.ctx)

	s.ticker = e.sched.Every(e.tuning.TickInterval, func() { e.tick(s) })
}

// tick advances every unfinished horse and ends the race once at most one
// horse is still running
func (e *RaceEngine) tick(s *RaceSession) {
	if e.session != s || e.state != models.GameStateRunning {
		return
	}

	unfinished := 0
	for _, h := range e.horses {
		if h.Finished {
			continue
		}
		h.Position += s.movement(h, e.tuning, e.rng)
		if h.Position >= e.tuning.FinishLine {
			h.Finished = true
		} else {
			unfinished++
		}
	}

	tx := events.NewTransactionalBus(e.bus)
	e.publishHorses(tx)
	if unfinished <= 1 {
		e.finishRace(tx, s)
	}
	tx.Flush(e.ctx)
}

func (e *RaceEngine) finishRace(tx *events.TransactionalBus, s *RaceSession) {
	s.stopTimers()

	finishOrder := RankHorses(e.horses)
	result := ComputePayout(s.Bets, finishOrder, e.coins, e.multipliers)
	result.RaceID = s.ID

	before := e.coins
	e.coins = result.NewBalance
	e.result = result

	history := newBalanceHistory(before, e.coins, models.TransactionTypeRacePayout, s.ID, map[string]any{
		"finish_order":   finishOrder,
		"total_winnings": result.TotalWinnings,
		"total_losses":   result.TotalLosses,
	})
	e.persist(e.ctx, "finish_race", func(uow UnitOfWork) error {
		if err := saveCoins(e.ctx, uow.PreferenceRepository(), e.coins); err != nil {
			return err
		}
		return RecordBalanceChange(e.ctx, uow, history)
	})

	e.metrics.RecordRaceFinished(result.TotalWinnings, result.TotalLosses)
	log.WithFields(log.Fields{
		"raceID":      s.ID,
		"finishOrder": finishOrder,
		"winnings":    result.TotalWinnings,
		"netChange":   result.NetChange,
		"balance":     e.coins,
		"duration":    e.sched.Now().Sub(s.StartedAt),
	}).Info("Race finished")

	e.publishHorses(tx)
	tx.Publish(balanceChangeEvent(history, s.ID))
	tx.Publish(events.RaceFinishedEvent{Result: result.Clone()})
	e.setState(tx, models.GameStateResult)
}

// ReturnToMainMenu clears the bets and horses and goes back to IDLE. A
// race in progress is abandoned; its stake is not refunded.
func (e *RaceEngine) ReturnToMainMenu(ctx context.Context) {
	e.abandonSession()

	e.bets = nil
	e.picked = make(map[int]bool)
	e.resetHorses()

	tx := events.NewTransactionalBus(e.bus)
	e.setCountdown(tx, nil)
	e.publishBets(tx)
	e.publishHorses(tx)
	e.setState(tx, models.GameStateIdle)
	tx.Flush(ctx)
}

// ResetGame wipes the profile back to a fresh install
func (e *RaceEngine) ResetGame(ctx context.Context) {
	e.abandonSession()

	before := e.coins
	e.username = ""
	e.coins = e.tuning.InitialCoins
	e.firstRun = true
	e.bets = nil
	e.picked = make(map[int]bool)
	e.resetHorses()
	e.result = nil

	history := newBalanceHistory(before, e.coins, models.TransactionTypeReset, uuid.Nil, nil)
	e.persist(ctx, "reset_game", func(uow UnitOfWork) error {
		prefs := models.GamePrefs{Username: e.username, Coins: e.coins, FirstRun: e.firstRun}
		if err := saveGamePrefs(ctx, uow.PreferenceRepository(), prefs); err != nil {
			return err
		}
		return RecordBalanceChange(ctx, uow, history)
	})

	log.WithField("balance", e.coins).Info("Game reset")

	tx := events.NewTransactionalBus(e.bus)
	tx.Publish(events.UserChangedEvent{Username: e.username, FirstRun: e.firstRun})
	tx.Publish(balanceChangeEvent(history, uuid.Nil))
	e.setCountdown(tx, nil)
	e.publishBets(tx)
	e.publishHorses(tx)
	tx.Publish(events.RaceResultClearedEvent{})
	e.setState(tx, models.GameStateIdle)
	tx.Flush(ctx)
}

// SetUsername stores the player name and ends the first-run flow
func (e *RaceEngine) SetUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidUsername)
	}

	e.username = name
	e.firstRun = false
	e.persist(ctx, "set_username", func(uow UnitOfWork) error {
		prefs := models.GamePrefs{Username: e.username, Coins: e.coins, FirstRun: e.firstRun}
		return saveGamePrefs(ctx, uow.PreferenceRepository(), prefs)
	})

	tx := events.NewTransactionalBus(e.bus)
	tx.Publish(events.UserChangedEvent{Username: e.username, FirstRun: e.firstRun})
	tx.Flush(ctx)
	return nil
}

// Close cancels any pending race timers
func (e *RaceEngine) Close() {
	if e.session != nil {
		e.session.stopTimers()
	}
}

func (e *RaceEngine) abandonSession() {
	if e.session == nil {
		return
	}
	if e.state.InRace() {
		log.WithFields(log.Fields{
			"raceID": e.session.ID,
			"state":  e.state,
			"stake":  e.session.Stake,
		}).Warn("Race abandoned")
	}
	e.session.stopTimers()
	e.session = nil
}

// persist runs fn in a unit of work. Failures are logged; the in-memory
// state stays authoritative.
func (e *RaceEngine) persist(ctx context.Context, operation string, fn func(uow UnitOfWork) error) {
	if err := withUnitOfWork(ctx, e.uowFactory, fn); err != nil {
		log.WithFields(log.Fields{
			"operation": operation,
			"coins":     e.coins,
		}).WithError(err).Error("Failed to persist game state")
	}
}

func (e *RaceEngine) reject(reason string, err error) error {
	e.metrics.RecordBetRejected(reason)
	log.WithError(err).Debug("Bet rejected")
	return err
}

func (e *RaceEngine) horse(number int) *models.Horse {
	for _, h := range e.horses {
		if h.Number == number {
			return h
		}
	}
	return nil
}

func (e *RaceEngine) resetHorses() {
	for _, h := range e.horses {
		h.Reset()
	}
}

func (e *RaceEngine) setState(tx *events.TransactionalBus, next models.GameState) {
	if e.state == next {
		return
	}
	prev := e.state
	e.state = next

	var raceID uuid.UUID
	if e.session != nil {
		raceID = e.session.ID
	}
	log.WithFields(log.Fields{
		"from": prev,
		"to":   next,
	}).Debug("Game state changed")
	tx.Publish(events.GameStateChangedEvent{OldState: prev, NewState: next, RaceID: raceID})
}

// setCountdown publishes a countdown change; nil clears it
func (e *RaceEngine) setCountdown(tx *events.TransactionalBus, value *int) {
	if value == nil {
		if e.countdown == nil {
			return
		}
		e.countdown = nil
		tx.Publish(events.CountdownChangedEvent{})
		return
	}
	v := *value
	e.countdown = &v
	tx.Publish(events.CountdownChangedEvent{Value: v, Active: true})
}

func (e *RaceEngine) publishBets(tx *events.TransactionalBus) {
	tx.Publish(events.BetsChangedEvent{
		Bets:       e.Bets(),
		TotalStake: e.TotalStake(),
		Picked:     copyPicked(e.picked),
	})
}

func (e *RaceEngine) publishHorses(tx *events.TransactionalBus) {
	tx.Publish(events.HorsesUpdatedEvent{Horses: snapshotHorses(e.horses)})
}

func snapshotHorses(horses []*models.Horse) []models.Horse {
	out := make([]models.Horse, len(horses))
	for i, h := range horses {
		out[i] = *h
	}
	return out
}

func copyPicked(picked map[int]bool) map[int]bool {
	out := make(map[int]bool, len(picked))
	for k, v := range picked {
		if v {
			out[k] = v
		}
	}
	return out
}
