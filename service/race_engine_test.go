package service

import (
	"context"
	"sort"
	"strconv"
	"testing"
	"time"

	"derby/events"
	"derby/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRaceEngine_New_FirstLaunch(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)

	assert.Equal(t, models.GameStateIdle, engine.State())
	assert.Equal(t, int64(100), engine.Coins())
	assert.Equal(t, "", engine.Username())
	assert.True(t, engine.FirstRun())
	assert.Len(t, engine.Horses(), 4)

	coins, ok := rig.store.pref(models.StoreGame, models.KeyCoins)
	require.True(t, ok)
	assert.Equal(t, "100", coins)

	ledger := rig.store.ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, models.TransactionTypeInitial, ledger[0].TransactionType)
	assert.Equal(t, int64(100), ledger[0].BalanceAfter)
}

func TestRaceEngine_New_LoadsSavedProfile(t *testing.T) {
	rig := newTestRig()
	rig.store.setPref(models.StoreGame, models.KeyCoins, "250")
	rig.store.setPref(models.StoreGame, models.KeyUsername, "Alice")
	rig.store.setPref(models.StoreGame, models.KeyFirstRun, "false")

	engine := rig.newEngine(t, 1)

	assert.Equal(t, int64(250), engine.Coins())
	assert.Equal(t, "Alice", engine.Username())
	assert.False(t, engine.FirstRun())
	assert.Empty(t, rig.store.ledger())
}

func TestRaceEngine_New_BeginFails(t *testing.T) {
	ctx := context.Background()

	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockFactory.On("Create").Return(mockUoW)
	mockUoW.On("Begin", ctx).Return(errBoom)

	rig := newTestRig()
	engine, err := NewRaceEngine(ctx, rig.tuning.Race, rig.loop, mockFactory, rig.bus, nil, nil)

	assert.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Nil(t, engine)
	mockFactory.AssertExpectations(t)
	mockUoW.AssertExpectations(t)
}

func TestRaceEngine_New_ReadsThroughRepository(t *testing.T) {
	ctx := context.Background()

	mockUoW := new(MockUnitOfWork)
	mockFactory := new(MockUnitOfWorkFactory)
	mockPrefs := new(MockPreferenceRepository)
	mockHistory := new(MockBalanceHistoryRepository)
	mockUoW.SetRepositories(mockPrefs, mockHistory)

	mockFactory.On("Create").Return(mockUoW)
	mockUoW.On("Begin", ctx).Return(nil)
	mockUoW.On("Commit").Return(nil)
	mockUoW.On("Rollback").Return(nil)
	mockPrefs.On("Get", ctx, models.StoreGame, models.KeyUsername).Return("Bob", true, nil)
	mockPrefs.On("Get", ctx, models.StoreGame, models.KeyCoins).Return("42", true, nil)
	mockPrefs.On("Get", ctx, models.StoreGame, models.KeyFirstRun).Return("false", true, nil)

	rig := newTestRig()
	engine, err := NewRaceEngine(ctx, rig.tuning.Race, rig.loop, mockFactory, rig.bus, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, int64(42), engine.Coins())
	assert.Equal(t, "Bob", engine.Username())
	mockPrefs.AssertExpectations(t)
	mockPrefs.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockHistory.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestRaceEngine_PlaceBet_Validation(t *testing.T) {
	tests := []struct {
		name    string
		setup   []models.Bet
		horse   int
		amount  int64
		wantErr error
	}{
		{name: "zero amount", horse: 1, amount: 0, wantErr: ErrInvalidAmount},
		{name: "negative amount", horse: 1, amount: -5, wantErr: ErrInvalidAmount},
		{name: "unknown horse", horse: 5, amount: 10, wantErr: ErrUnknownHorse},
		{name: "more than balance", horse: 1, amount: 101, wantErr: ErrInsufficientFunds},
		{name: "more than balance minus stake", setup: []models.Bet{{HorseNumber: 1, Amount: 60}}, horse: 2, amount: 41, wantErr: ErrInsufficientFunds},
		{name: "horse already picked", setup: []models.Bet{{HorseNumber: 3, Amount: 10}}, horse: 3, amount: 10, wantErr: ErrHorseAlreadyPicked},
		{name: "exactly the remaining balance", setup: []models.Bet{{HorseNumber: 1, Amount: 60}}, horse: 2, amount: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig()
			engine := rig.newEngine(t, 1)
			for _, bet := range tt.setup {
				require.NoError(t, engine.PlaceBet(rig.ctx, bet.HorseNumber, bet.Amount))
			}
			before := engine.Bets()
			rig.recorder.reset()

			err := engine.PlaceBet(rig.ctx, tt.horse, tt.amount)

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Len(t, engine.Bets(), len(before)+1)
				assert.True(t, engine.IsPicked(tt.horse))
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, before, engine.Bets())
			assert.Empty(t, rig.recorder.events)
			assert.Equal(t, int64(100), engine.Coins())
		})
	}
}

func TestRaceEngine_PlaceBet_EmitsBets(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	rig.recorder.reset()

	require.NoError(t, engine.PlaceBet(rig.ctx, 2, 10))
	require.NoError(t, engine.PlaceBet(rig.ctx, 4, 25))

	require.Len(t, rig.recorder.events, 2)
	last := rig.recorder.events[1].(events.BetsChangedEvent)
	assert.Equal(t, []models.Bet{{HorseNumber: 2, Amount: 10}, {HorseNumber: 4, Amount: 25}}, last.Bets)
	assert.Equal(t, int64(35), last.TotalStake)
	assert.Equal(t, map[int]bool{2: true, 4: true}, last.Picked)
	// placing bets does not touch the balance
	assert.Equal(t, int64(100), engine.Coins())
}

func TestRaceEngine_PlaceBet_RecordsRejection(t *testing.T) {
	rig := newTestRig()
	metrics := new(MockMetrics)
	metrics.On("RecordBetRejected", "insufficient_funds").Return()

	engine, err := NewRaceEngine(rig.ctx, rig.tuning.Race, rig.loop, rig.factory, rig.bus, nil, metrics)
	require.NoError(t, err)

	err = engine.PlaceBet(rig.ctx, 1, 1000)

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	metrics.AssertExpectations(t)
	metrics.AssertNotCalled(t, "RecordBetPlaced", mock.Anything)
}

func TestRaceEngine_RemoveBet(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.NoError(t, engine.PlaceBet(rig.ctx, 2, 20))
	require.NoError(t, engine.PlaceBet(rig.ctx, 3, 30))

	require.NoError(t, engine.RemoveBet(rig.ctx, 1))

	assert.Equal(t, []models.Bet{{HorseNumber: 1, Amount: 10}, {HorseNumber: 3, Amount: 30}}, engine.Bets())
	assert.False(t, engine.IsPicked(2))
	assert.Equal(t, int64(40), engine.TotalStake())

	// the freed horse can be picked again
	require.NoError(t, engine.PlaceBet(rig.ctx, 2, 5))
}

func TestRaceEngine_RemoveBet_IndexOutOfRange(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	rig.recorder.reset()

	for _, index := range []int{-1, 1, 7} {
		err := engine.RemoveBet(rig.ctx, index)
		assert.ErrorIs(t, err, ErrIndexOutOfRange, "index %d", index)
	}
	assert.Len(t, engine.Bets(), 1)
	assert.Empty(t, rig.recorder.events)
}

func TestRaceEngine_StartRace_WithoutBets(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	rig.recorder.reset()

	assert.False(t, engine.CanStartRace())
	assert.False(t, engine.StartRace(rig.ctx))
	assert.Equal(t, models.GameStateIdle, engine.State())
	assert.Empty(t, rig.recorder.events)
	assert.Equal(t, 0, rig.loop.Pending())
}

func TestRaceEngine_StartRace_DeductsStakeAndStartsCountdown(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 2, 10))
	require.NoError(t, engine.PlaceBet(rig.ctx, 3, 15))
	rig.recorder.reset()

	require.True(t, engine.StartRace(rig.ctx))

	assert.Equal(t, models.GameStateCountdown, engine.State())
	assert.Equal(t, int64(75), engine.Coins())
	assert.Empty(t, engine.Bets())
	assert.Empty(t, engine.Picked())
	value, ok := engine.Countdown()
	assert.True(t, ok)
	assert.Equal(t, 3, value)

	assert.Equal(t, []events.EventType{
		events.EventTypeBalanceChange,
		events.EventTypeBetsChanged,
		events.EventTypeHorsesUpdated,
		events.EventTypeGameStateChanged,
		events.EventTypeCountdownChanged,
	}, rig.recorder.types())

	balance := rig.recorder.events[0].(events.BalanceChangeEvent)
	assert.Equal(t, int64(100), balance.OldBalance)
	assert.Equal(t, int64(75), balance.NewBalance)
	assert.Equal(t, models.TransactionTypeRaceStake, balance.TransactionType)

	session, ok := engine.Session()
	require.True(t, ok)
	assert.Equal(t, int64(25), session.Stake)
	assert.GreaterOrEqual(t, session.BoostedHorse, 1)
	assert.LessOrEqual(t, session.BoostedHorse, 4)
	assert.False(t, session.BurstActivated)

	coins, _ := rig.store.pref(models.StoreGame, models.KeyCoins)
	assert.Equal(t, "75", coins)

	// a second start while one is on is ignored
	assert.False(t, engine.StartRace(rig.ctx))
}

func TestRaceEngine_PlaceBet_DuringRace(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.True(t, engine.StartRace(rig.ctx))

	err := engine.PlaceBet(rig.ctx, 2, 10)
	assert.ErrorIs(t, err, ErrRaceInProgress)

	rig.advance(4 * time.Second)
	require.Equal(t, models.GameStateRunning, engine.State())
	err = engine.PlaceBet(rig.ctx, 2, 10)
	assert.ErrorIs(t, err, ErrRaceInProgress)
	assert.Empty(t, engine.Bets())
}

func TestRaceEngine_Countdown_Timing(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.True(t, engine.StartRace(rig.ctx))

	steps := []struct {
		after time.Duration
		value int
	}{
		{after: time.Second, value: 2},
		{after: time.Second, value: 1},
		{after: time.Second, value: 0},
	}
	for _, step := range steps {
		rig.advance(step.after - time.Millisecond)
		assert.Equal(t, models.GameStateCountdown, engine.State())
		rig.advance(time.Millisecond)
		value, ok := engine.Countdown()
		require.True(t, ok)
		assert.Equal(t, step.value, value)
	}

	// "0" stays on screen for one more second
	rig.advance(999 * time.Millisecond)
	assert.Equal(t, models.GameStateCountdown, engine.State())
	rig.advance(time.Millisecond)
	assert.Equal(t, models.GameStateRunning, engine.State())
	_, ok := engine.Countdown()
	assert.False(t, ok)

	var values []int
	var cleared int
	for _, c := range rig.recorder.countdowns() {
		if c.Active {
			values = append(values, c.Value)
		} else {
			cleared++
		}
	}
	assert.Equal(t, []int{3, 2, 1, 0}, values)
	assert.Equal(t, 1, cleared)
}

func TestRaceEngine_Race_RunsToResult(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 7)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.NoError(t, engine.PlaceBet(rig.ctx, 2, 20))
	require.True(t, engine.StartRace(rig.ctx))

	lastPositions := make(map[int]float64)
	monotonic := true
	rig.bus.Subscribe(events.EventTypeHorsesUpdated, func(ctx context.Context, event events.Event) {
		for _, h := range event.(events.HorsesUpdatedEvent).Horses {
			if h.Position < lastPositions[h.Number] {
				monotonic = false
			}
			lastPositions[h.Number] = h.Position
		}
	})

	rig.runRace(t, engine)

	assert.True(t, monotonic, "horse positions went backwards")
	assert.Equal(t, 0, rig.loop.Pending(), "race left timers behind")

	result := engine.LastResult()
	require.NotNil(t, result)
	order := append([]int(nil), result.FinishOrder...)
	sort.Ints(order)
	assert.Equal(t, []int{1, 2, 3, 4}, order)

	finished := 0
	for _, h := range engine.Horses() {
		assert.Equal(t, indexOf(result.FinishOrder, h.Number)+1, h.FinishPosition)
		if h.Finished {
			finished++
		}
	}
	assert.GreaterOrEqual(t, finished, 3)

	assert.Equal(t, int64(30), result.TotalLosses)
	assert.Equal(t, int64(70)+result.TotalWinnings, engine.Coins())
	assert.Equal(t, engine.Coins(), result.NewBalance)

	// RaceFinished comes right before the RESULT transition
	types := rig.recorder.types()
	require.GreaterOrEqual(t, len(types), 2)
	assert.Equal(t, events.EventTypeRaceFinished, types[len(types)-2])
	assert.Equal(t, events.EventTypeGameStateChanged, types[len(types)-1])
	assert.Equal(t, []models.GameState{
		models.GameStateCountdown,
		models.GameStateRunning,
		models.GameStateResult,
	}, rig.recorder.states())

	ledger := rig.store.ledger()
	require.Len(t, ledger, 3)
	assert.Equal(t, models.TransactionTypeRaceStake, ledger[1].TransactionType)
	assert.Equal(t, models.TransactionTypeRacePayout, ledger[2].TransactionType)
	assert.Equal(t, engine.Coins(), ledger[2].BalanceAfter)

	coins, _ := rig.store.pref(models.StoreGame, models.KeyCoins)
	assert.Equal(t, strconv.FormatInt(engine.Coins(), 10), coins)
}

func TestRaceEngine_Race_NewSessionEveryRace(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 3)

	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 5))
	require.True(t, engine.StartRace(rig.ctx))
	first, _ := engine.Session()
	rig.runRace(t, engine)
	finished, _ := engine.Session()
	assert.True(t, finished.BurstActivated)

	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 5))
	require.True(t, engine.StartRace(rig.ctx))
	second, _ := engine.Session()

	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, second.BurstActivated)
	for _, h := range engine.Horses() {
		assert.Zero(t, h.Position)
		assert.False(t, h.Finished)
	}
}

func TestRaceEngine_ReturnToMainMenu_AbandonsRace(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 30))
	require.True(t, engine.StartRace(rig.ctx))
	rig.advance(5 * time.Second)
	require.Equal(t, models.GameStateRunning, engine.State())

	engine.ReturnToMainMenu(rig.ctx)

	assert.Equal(t, models.GameStateIdle, engine.State())
	assert.Equal(t, 0, rig.loop.Pending())
	assert.Equal(t, int64(70), engine.Coins(), "stake is not refunded")
	for _, h := range engine.Horses() {
		assert.Zero(t, h.Position)
	}
	_, ok := engine.Session()
	assert.False(t, ok)

	rig.recorder.reset()
	rig.advance(time.Minute)
	assert.Empty(t, rig.recorder.events)
}

func TestRaceEngine_ReturnToMainMenu_FromResult(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.True(t, engine.StartRace(rig.ctx))
	rig.runRace(t, engine)
	coins := engine.Coins()

	engine.ReturnToMainMenu(rig.ctx)

	assert.Equal(t, models.GameStateIdle, engine.State())
	assert.Equal(t, coins, engine.Coins())
	assert.NotNil(t, engine.LastResult())
}

func TestRaceEngine_ResetGame(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.SetUsername(rig.ctx, "Alice"))
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 50))
	require.True(t, engine.StartRace(rig.ctx))
	rig.runRace(t, engine)
	rig.recorder.reset()

	engine.ResetGame(rig.ctx)

	assert.Equal(t, models.GameStateIdle, engine.State())
	assert.Equal(t, int64(100), engine.Coins())
	assert.Equal(t, "", engine.Username())
	assert.True(t, engine.FirstRun())
	assert.Nil(t, engine.LastResult())
	assert.Empty(t, engine.Bets())

	assert.Contains(t, rig.recorder.types(), events.EventTypeRaceResultCleared)
	assert.Equal(t, events.EventTypeGameStateChanged, rig.recorder.types()[len(rig.recorder.events)-1])

	username, _ := rig.store.pref(models.StoreGame, models.KeyUsername)
	firstRun, _ := rig.store.pref(models.StoreGame, models.KeyFirstRun)
	coins, _ := rig.store.pref(models.StoreGame, models.KeyCoins)
	assert.Equal(t, "", username)
	assert.Equal(t, "true", firstRun)
	assert.Equal(t, "100", coins)

	ledger := rig.store.ledger()
	assert.Equal(t, models.TransactionTypeReset, ledger[len(ledger)-1].TransactionType)
}

func TestRaceEngine_SetUsername(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)

	err := engine.SetUsername(rig.ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidUsername)
	assert.True(t, engine.FirstRun())

	require.NoError(t, engine.SetUsername(rig.ctx, "  Bob "))
	assert.Equal(t, "Bob", engine.Username())
	assert.False(t, engine.FirstRun())

	username, _ := rig.store.pref(models.StoreGame, models.KeyUsername)
	assert.Equal(t, "Bob", username)

	last := rig.recorder.events[len(rig.recorder.events)-1].(events.UserChangedEvent)
	assert.Equal(t, events.UserChangedEvent{Username: "Bob", FirstRun: false}, last)
}

func TestRaceEngine_PersistenceFailure_KeepsMemoryState(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 40))
	rig.store.commitErr = errBoom

	require.True(t, engine.StartRace(rig.ctx))

	assert.Equal(t, int64(60), engine.Coins())
	coins, _ := rig.store.pref(models.StoreGame, models.KeyCoins)
	assert.Equal(t, "100", coins)
	assert.Equal(t, models.GameStateCountdown, engine.State())
}

func TestRaceEngine_BalanceHistory(t *testing.T) {
	rig := newTestRig()
	engine := rig.newEngine(t, 1)
	require.NoError(t, engine.PlaceBet(rig.ctx, 1, 10))
	require.True(t, engine.StartRace(rig.ctx))

	history, err := engine.BalanceHistory(rig.ctx, 10)

	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TransactionTypeRaceStake, history[0].TransactionType)
	assert.Equal(t, int64(-10), history[0].ChangeAmount)
	require.NotNil(t, history[0].RaceID)
	assert.Equal(t, models.TransactionTypeInitial, history[1].TransactionType)
}

func indexOf(values []int, v int) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}
