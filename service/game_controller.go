package service

import (
	"context"
	"time"

	"derby/events"
	"derby/loop"
	"derby/models"

	log "github.com/sirupsen/logrus"
)

// GameController is the thin layer between a front end and the engine and
// audio session. It turns engine events into audio cues and owns the
// result dialog.
type GameController struct {
	engine     *RaceEngine
	audio      *AudioSession
	sched      Scheduler
	bus        *events.Bus
	dialogWait time.Duration

	dialogVisible bool
	dialogTimer   *loop.Timer
	subs          []events.Subscription
}

// NewGameController subscribes the controller to the engine's events
func NewGameController(engine *RaceEngine, audio *AudioSession, sched Scheduler, bus *events.Bus, dialogWait time.Duration) *GameController {
	c := &GameController{
		engine:     engine,
		audio:      audio,
		sched:      sched,
		bus:        bus,
		dialogWait: dialogWait,
	}
	c.subs = append(c.subs,
		bus.Subscribe(events.EventTypeCountdownChanged, c.onCountdownChanged),
		bus.Subscribe(events.EventTypeGameStateChanged, c.onGameStateChanged),
	)
	return c
}

// Engine returns the race engine for read access
func (c *GameController) Engine() *RaceEngine { return c.engine }

// Audio returns the audio session for read access
func (c *GameController) Audio() *AudioSession { return c.audio }

// ResultDialogVisible reports whether the result dialog is showing
func (c *GameController) ResultDialogVisible() bool { return c.dialogVisible }

// PlaceBet places a bet on a horse
func (c *GameController) PlaceBet(ctx context.Context, horseNumber int, amount int64) error {
	c.audio.PlayOneShot(models.EffectMouseClick)
	return c.engine.PlaceBet(ctx, horseNumber, amount)
}

// RemoveBet removes the bet at index
func (c *GameController) RemoveBet(ctx context.Context, index int) error {
	c.audio.PlayOneShot(models.EffectMouseClick)
	return c.engine.RemoveBet(ctx, index)
}

// StartRace starts the countdown if there is at least one bet
func (c *GameController) StartRace(ctx context.Context) bool {
	c.audio.PlayOneShot(models.EffectMouseClick)
	return c.engine.StartRace(ctx)
}

// ReturnToMainMenu leaves the current race or result screen
func (c *GameController) ReturnToMainMenu(ctx context.Context) {
	c.audio.PlayOneShot(models.EffectMouseClick)
	c.hideDialog(ctx)
	c.engine.ReturnToMainMenu(ctx)
	c.audio.OnResultDialogDismissed()
}

// ResetGame resets the player profile
func (c *GameController) ResetGame(ctx context.Context) {
	c.audio.PlayOneShot(models.EffectMouseClick)
	c.hideDialog(ctx)
	c.engine.ResetGame(ctx)
	c.audio.OnResultDialogDismissed()
}

// SetUsername stores the player name
func (c *GameController) SetUsername(ctx context.Context, name string) error {
	c.audio.PlayOneShot(models.EffectMouseClick)
	return c.engine.SetUsername(ctx, name)
}

// SetMuted toggles a channel
func (c *GameController) SetMuted(ctx context.Context, channel models.Channel, muted bool) {
	c.audio.PlayOneShot(models.EffectMouseClick)
	c.audio.SetMuted(ctx, channel, muted)
}

// PlayOneShot plays an arbitrary effect
func (c *GameController) PlayOneShot(effect models.EffectID) {
	c.audio.PlayOneShot(effect)
}

// DismissResultDialog hides the result dialog and lets background music
// come back
func (c *GameController) DismissResultDialog(ctx context.Context) {
	c.audio.PlayOneShot(models.EffectMouseClick)
	c.hideDialog(ctx)
	c.audio.OnResultDialogDismissed()
}

// Close detaches the controller from the bus and cancels the dialog timer
func (c *GameController) Close() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	c.dialogTimer.Stop()
	c.dialogTimer = nil
}

func (c *GameController) onCountdownChanged(ctx context.Context, event events.Event) {
	countdown, ok := event.(events.CountdownChangedEvent)
	if !ok || !countdown.Active {
		return
	}
	c.audio.PlayOneShot(models.EffectRaceStartBeeps)
	if countdown.Value == 0 {
		c.audio.PlayOneShot(models.EffectHorseWhinny)
	}
}

func (c *GameController) onGameStateChanged(ctx context.Context, event events.Event) {
	change, ok := event.(events.GameStateChangedEvent)
	if !ok {
		return
	}
	if change.NewState != models.GameStateResult {
		c.dialogTimer.Stop()
		c.dialogTimer = nil
		return
	}

	c.audio.PlayOneShot(models.EffectFanfare)
	c.dialogTimer.Stop()
	c.dialogTimer = c.sched.AfterFunc(c.dialogWait, func() {
		c.dialogTimer = nil
		c.showDialog(ctx)
	})
}

func (c *GameController) showDialog(ctx context.Context) {
	if c.engine.State() != models.GameStateResult {
		return
	}
	c.dialogVisible = true
	c.audio.OnResultDialogShown()
	log.Debug("Showing race result")
	c.bus.Emit(ctx, events.ResultDialogChangedEvent{Visible: true, Result: c.engine.LastResult()})
}

func (c *GameController) hideDialog(ctx context.Context) {
	c.dialogTimer.Stop()
	c.dialogTimer = nil
	if !c.dialogVisible {
		return
	}
	c.dialogVisible = false
	c.bus.Emit(ctx, events.ResultDialogChangedEvent{Visible: false})
}
