package cmd

import (
	"bytes"
	"context"
	"math/rand"
	"strings"
	"testing"
	"time"

	"derby/audio"
	"derby/config"
	"derby/database"
	"derby/events"
	"derby/loop"
	"derby/models"
	"derby/repository"
	"derby/service"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inlineDispatcher runs commands on the calling goroutine and then drains
// whatever they posted to the loop
type inlineDispatcher struct {
	loop *loop.Loop
}

func (d inlineDispatcher) Call(ctx context.Context, fn func()) error {
	fn()
	d.loop.RunPending()
	return nil
}

type consoleRig struct {
	ctx        context.Context
	loop       *loop.Loop
	controller *service.GameController
	console    *Console
	out        *bytes.Buffer
	tuning     config.Tuning
}

func newConsoleRig(t *testing.T) *consoleRig {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemoryPebble()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	factory := repository.NewPebbleUnitOfWorkFactory(db)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	lp := loop.New(clk)
	bus := events.NewBus()
	tuning := config.DefaultTuning()
	backend := audio.NewHeadlessBackend()

	engine, err := service.NewRaceEngine(ctx, tuning.Race, lp, factory, bus, rand.New(rand.NewSource(7)), nil)
	require.NoError(t, err)
	audioSession, err := service.NewAudioSession(ctx, tuning.Audio, lp, backend, factory, bus, rand.New(rand.NewSource(8)), nil)
	require.NoError(t, err)
	controller := service.NewGameController(engine, audioSession, lp, bus, tuning.Audio.ResultDialogWait)
	lp.RunPending()

	out := &bytes.Buffer{}
	console := NewConsole(controller, inlineDispatcher{loop: lp}, backend, strings.NewReader(""), out)
	console.Attach(bus)

	t.Cleanup(func() {
		console.Detach()
		controller.Close()
		audioSession.Close()
		engine.Close()
	})

	return &consoleRig{
		ctx:        ctx,
		loop:       lp,
		controller: controller,
		console:    console,
		out:        out,
		tuning:     tuning,
	}
}

// exec runs a command and returns what it printed
func (r *consoleRig) exec(line string) string {
	r.out.Reset()
	r.console.Execute(r.ctx, line)
	return r.out.String()
}

func TestConsole_Execute_PlaceBet(t *testing.T) {
	r := newConsoleRig(t)

	assert.Contains(t, r.exec("bet 1 30"), "Bet 30 coins on #1 Thunder. Stake: 30, balance: 100")
	assert.Contains(t, r.exec("bet 1 10"), "You already bet on that horse.")
	assert.Contains(t, r.exec("bet 9 10"), "There is no horse with that number.")
	assert.Contains(t, r.exec("bet 2 500"), "You don't have enough coins for that bet.")
	assert.Contains(t, r.exec("bet 2 0"), "Enter a positive amount.")
	assert.Contains(t, r.exec("bet two 10"), "Horse must be a number.")
	assert.Contains(t, r.exec("bet 2"), "Usage: bet <horse> <amount>")

	status := r.exec("status")
	assert.Contains(t, status, "Balance: 100")
	assert.Contains(t, status, "1. #1 Thunder")
	assert.Contains(t, status, "Total stake: 30")
}

func TestConsole_Execute_RemoveBet(t *testing.T) {
	r := newConsoleRig(t)

	r.exec("bet 1 30")
	r.exec("bet 2 20")
	assert.Contains(t, r.exec("remove 1"), "Bet removed. Stake: 20")
	assert.Contains(t, r.exec("remove 5"), "That bet doesn't exist.")

	bets := r.controller.Engine().Bets()
	require.Len(t, bets, 1)
	assert.Equal(t, 2, bets[0].HorseNumber)
}

func TestConsole_Execute_FullRace(t *testing.T) {
	r := newConsoleRig(t)

	r.exec("bet 2 40")
	assert.Contains(t, r.exec("start"), "3...")
	assert.Contains(t, r.exec("bet 3 10"), "Betting is closed until the race is over.")

	r.out.Reset()
	for i := 0; i < 10000 && r.controller.Engine().State().InRace(); i++ {
		r.loop.Advance(100 * time.Millisecond)
	}
	require.Equal(t, models.GameStateResult, r.controller.Engine().State())
	race := r.out.String()
	assert.Contains(t, race, "Go!")
	assert.Contains(t, race, "They're off!")
	assert.Contains(t, race, "(race_payout)")

	r.out.Reset()
	r.loop.Advance(r.tuning.Audio.ResultDialogWait)
	assert.True(t, r.controller.ResultDialogVisible())
	dialog := r.out.String()
	assert.Contains(t, dialog, "=== Race result ===")
	assert.Contains(t, dialog, "Bet 40 on #2")

	r.exec("dismiss")
	assert.False(t, r.controller.ResultDialogVisible())

	history := r.exec("history")
	assert.Contains(t, history, "race_payout")
	assert.Contains(t, history, "race_stake")

	assert.Contains(t, r.exec("menu"), "Back at the main menu.")
	assert.Equal(t, models.GameStateIdle, r.controller.Engine().State())
}

func TestConsole_Execute_StartWithoutBets(t *testing.T) {
	r := newConsoleRig(t)
	assert.Contains(t, r.exec("start"), "Place at least one bet")
	assert.Equal(t, models.GameStateIdle, r.controller.Engine().State())
}

func TestConsole_Execute_ProfileAndAudio(t *testing.T) {
	r := newConsoleRig(t)

	assert.Contains(t, r.exec("name   "), "Enter a name.")
	assert.Contains(t, r.exec("name Lucky Jo"), "Hello, Lucky Jo!")
	assert.Equal(t, "Lucky Jo", r.controller.Engine().Username())

	assert.Contains(t, r.exec("mute sfx"), "sfx muted")
	assert.True(t, r.controller.Audio().Muted(models.ChannelSfx))
	assert.Contains(t, r.exec("unmute sfx"), "sfx unmuted")
	assert.Contains(t, r.exec("mute drums"), "Channel must be sfx or bgm.")

	assert.Contains(t, r.exec("focus sideways"), "Unknown focus change")
	assert.Contains(t, r.exec("history 0"), "Usage: history [n]")
	assert.Contains(t, r.exec("dance"), "Unknown command \"dance\"")
}

func TestConsole_Execute_Reset(t *testing.T) {
	r := newConsoleRig(t)

	r.exec("name Sam")
	r.exec("bet 1 50")
	r.exec("start")
	reset := r.exec("reset")
	assert.Contains(t, reset, "Balance 50 -> 100 (reset)")
	assert.Contains(t, reset, "Back at the main menu.")
	assert.Equal(t, int64(100), r.controller.Engine().Coins())
	assert.True(t, r.controller.Engine().FirstRun())
	assert.Zero(t, r.loop.Pending(), "reset must cancel the race timers")
}

func TestConsole_Run_ReadsUntilQuit(t *testing.T) {
	r := newConsoleRig(t)
	r.console.in = strings.NewReader("help\nquit\nstatus\n")

	require.NoError(t, r.console.Run(r.ctx))
	out := r.out.String()
	assert.Contains(t, out, "Welcome to the races!")
	assert.Contains(t, out, "Commands:")
	assert.NotContains(t, out, "Player:")
}

func TestConsole_Run_EndOfInput(t *testing.T) {
	r := newConsoleRig(t)
	r.console.in = strings.NewReader("name Ada\n")

	require.NoError(t, r.console.Run(r.ctx))
	assert.Contains(t, r.out.String(), "Hello, Ada!")
}
