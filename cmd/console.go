package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"derby/events"
	"derby/models"
	"derby/service"

	log "github.com/sirupsen/logrus"
)

const consoleHelp = `Commands:
  status                  show balance, bets and race state
  horses                  list horses and positions
  bet <horse> <amount>    place a bet
  remove <n>              remove bet number n
  start                   start the race
  dismiss                 close the result dialog
  menu                    return to the main menu
  reset                   reset coins and bets
  name <username>         set the player name
  mute|unmute sfx|bgm     toggle an audio channel
  history [n]             show recent balance changes
  focus <change>          simulate gain|loss|loss_transient|loss_transient_can_duck
  background|foreground   simulate the app being hidden or shown
  help                    show this help
  quit                    exit`

// Dispatcher runs a function on the game loop and waits for it
type Dispatcher interface {
	Call(ctx context.Context, fn func()) error
}

// FocusSimulator delivers a system focus change to the audio session
type FocusSimulator interface {
	SimulateFocusChange(change models.FocusChange) bool
}

// Console is a line-oriented front end for the game controller. Commands
// are executed on the loop; bus events are printed as they happen.
type Console struct {
	controller *service.GameController
	dispatcher Dispatcher
	focus      FocusSimulator // nil when the backend has real focus handling
	in         io.Reader
	out        io.Writer
	mu         sync.Mutex
	subs       []events.Subscription
}

// NewConsole creates a console over in and out
func NewConsole(controller *service.GameController, dispatcher Dispatcher, focus FocusSimulator, in io.Reader, out io.Writer) *Console {
	return &Console{
		controller: controller,
		dispatcher: dispatcher,
		focus:      focus,
		in:         in,
		out:        out,
	}
}

// Attach subscribes the console to the events it prints. Call it on the loop.
func (c *Console) Attach(bus *events.Bus) {
	c.subs = append(c.subs,
		bus.Subscribe(events.EventTypeCountdownChanged, c.onCountdown),
		bus.Subscribe(events.EventTypeGameStateChanged, c.onGameState),
		bus.Subscribe(events.EventTypeBalanceChange, c.onBalanceChange),
		bus.Subscribe(events.EventTypeResultDialogChanged, c.onResultDialog),
		bus.Subscribe(events.EventTypeUserChanged, c.onUserChanged),
		bus.Subscribe(events.EventTypeMuteChanged, c.onMuteChanged),
	)
}

// Detach removes the console's subscriptions. Call it on the loop.
func (c *Console) Detach() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
}

// Run reads commands until quit, end of input or ctx is cancelled
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.greet(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

func (c *Console) greet(ctx context.Context) {
	var username string
	var firstRun bool
	if err := c.dispatcher.Call(ctx, func() {
		username = c.controller.Engine().Username()
		firstRun = c.controller.Engine().FirstRun()
	}); err != nil {
		return
	}
	if firstRun {
		c.printf("Welcome to the races! Set your name with: name <username>\n")
	} else {
		c.printf("Welcome back, %s!\n", username)
	}
	c.printf("Type 'help' for commands.\n")
}

// Execute runs a single command line and reports whether the user asked to quit
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	log.WithFields(log.Fields{
		"command": command,
		"args":    args,
	}).Debug("Console command")

	switch command {
	case "quit", "exit":
		return true
	case "help":
		c.printf("%s\n", consoleHelp)
	case "status":
		c.call(ctx, c.printStatus)
	case "horses":
		c.call(ctx, c.printHorses)
	case "bet":
		c.placeBet(ctx, args)
	case "remove":
		c.removeBet(ctx, args)
	case "start":
		c.call(ctx, func() {
			if !c.controller.StartRace(ctx) {
				c.printf("Place at least one bet before starting (and wait for the current race).\n")
			}
		})
	case "dismiss":
		c.call(ctx, func() { c.controller.DismissResultDialog(ctx) })
	case "menu":
		c.call(ctx, func() { c.controller.ReturnToMainMenu(ctx) })
	case "reset":
		c.call(ctx, func() { c.controller.ResetGame(ctx) })
	case "name":
		c.setUsername(ctx, args)
	case "mute", "unmute":
		c.setMuted(ctx, args, command == "mute")
	case "history":
		c.printHistory(ctx, args)
	case "focus":
		c.simulateFocus(args)
	case "background":
		c.call(ctx, func() { c.controller.Audio().OnAppBackground() })
	case "foreground":
		c.call(ctx, func() { c.controller.Audio().OnAppForeground() })
	default:
		c.printf("Unknown command %q. Type 'help' for commands.\n", command)
	}
	return false
}

func (c *Console) call(ctx context.Context, fn func()) {
	if err := c.dispatcher.Call(ctx, fn); err != nil {
		log.WithError(err).Warn("Console command was not executed")
	}
}

func (c *Console) placeBet(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.printf("Usage: bet <horse> <amount>\n")
		return
	}
	horse, err := strconv.Atoi(args[0])
	if err != nil {
		c.printf("Horse must be a number.\n")
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		c.printf("Amount must be a whole number.\n")
		return
	}
	c.call(ctx, func() {
		if err := c.controller.PlaceBet(ctx, horse, amount); err != nil {
			c.printf("%s\n", service.UserMessage(err))
			return
		}
		c.printf("Bet %d coins on #%d %s. Stake: %d, balance: %d\n",
			amount, horse, models.HorseName(horse), c.controller.Engine().TotalStake(), c.controller.Engine().Coins())
	})
}

func (c *Console) removeBet(ctx context.Context, args []string) {
	if len(args) != 1 {
		c.printf("Usage: remove <n>\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		c.printf("Bet number must be a number.\n")
		return
	}
	c.call(ctx, func() {
		if err := c.controller.RemoveBet(ctx, n-1); err != nil {
			c.printf("%s\n", service.UserMessage(err))
			return
		}
		c.printf("Bet removed. Stake: %d\n", c.controller.Engine().TotalStake())
	})
}

func (c *Console) setUsername(ctx context.Context, args []string) {
	name := strings.Join(args, " ")
	c.call(ctx, func() {
		if err := c.controller.SetUsername(ctx, name); err != nil {
			c.printf("%s\n", service.UserMessage(err))
		}
	})
}

func (c *Console) setMuted(ctx context.Context, args []string, muted bool) {
	if len(args) != 1 {
		c.printf("Usage: mute|unmute sfx|bgm\n")
		return
	}
	channel := models.Channel(strings.ToLower(args[0]))
	if channel != models.ChannelSfx && channel != models.ChannelBgm {
		c.printf("Channel must be sfx or bgm.\n")
		return
	}
	c.call(ctx, func() { c.controller.SetMuted(ctx, channel, muted) })
}

func (c *Console) printHistory(ctx context.Context, args []string) {
	limit := 10
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			c.printf("Usage: history [n]\n")
			return
		}
		limit = parsed
	}
	c.call(ctx, func() {
		history, err := c.controller.Engine().BalanceHistory(ctx, limit)
		if err != nil {
			log.WithError(err).Error("Failed to read balance history")
			c.printf("%s\n", service.UserMessage(err))
			return
		}
		if len(history) == 0 {
			c.printf("No balance changes yet.\n")
			return
		}
		for _, h := range history {
			c.printf("%s  %-12s %+6d  -> %d\n",
				h.CreatedAt.Format("2006-01-02 15:04:05"), h.TransactionType, h.ChangeAmount, h.BalanceAfter)
		}
	})
}

func (c *Console) simulateFocus(args []string) {
	if c.focus == nil {
		c.printf("Focus changes come from the audio device with this backend.\n")
		return
	}
	if len(args) != 1 {
		c.printf("Usage: focus gain|loss|loss_transient|loss_transient_can_duck\n")
		return
	}
	change := models.FocusChange(strings.ToLower(args[0]))
	switch change {
	case models.FocusGain, models.FocusLoss, models.FocusLossTransient, models.FocusLossTransientCanDuck:
	default:
		c.printf("Unknown focus change %q.\n", args[0])
		return
	}
	if !c.focus.SimulateFocusChange(change) {
		c.printf("Audio focus is not held right now.\n")
	}
}

func (c *Console) printStatus() {
	engine := c.controller.Engine()
	name := engine.Username()
	if name == "" {
		name = "(unnamed)"
	}
	c.printf("Player: %s  Balance: %d  State: %s\n", name, engine.Coins(), engine.State())
	if value, ok := engine.Countdown(); ok {
		c.printf("Countdown: %d\n", value)
	}
	bets := engine.Bets()
	if len(bets) == 0 {
		c.printf("No bets placed.\n")
	}
	for i, bet := range bets {
		c.printf("  %d. #%d %-10s %d coins\n", i+1, bet.HorseNumber, models.HorseName(bet.HorseNumber), bet.Amount)
	}
	if len(bets) > 0 {
		c.printf("Total stake: %d\n", engine.TotalStake())
	}
	audio := c.controller.Audio()
	bg, _ := audio.BackgroundStatus()
	c.printf("Audio: sfx muted=%t bgm muted=%t background=%s\n",
		audio.Muted(models.ChannelSfx), audio.Muted(models.ChannelBgm), bg)
}

func (c *Console) printHorses() {
	for _, h := range c.controller.Engine().Horses() {
		marker := ""
		if c.controller.Engine().IsPicked(h.Number) {
			marker = " *"
		}
		c.printf("  #%d %-10s %6.1f%s\n", h.Number, h.Name(), h.Position, marker)
	}
}

func (c *Console) onCountdown(ctx context.Context, event events.Event) {
	countdown, ok := event.(events.CountdownChangedEvent)
	if !ok || !countdown.Active {
		return
	}
	if countdown.Value == 0 {
		c.printf("Go!\n")
		return
	}
	c.printf("%d...\n", countdown.Value)
}

func (c *Console) onGameState(ctx context.Context, event events.Event) {
	change, ok := event.(events.GameStateChangedEvent)
	if !ok {
		return
	}
	switch change.NewState {
	case models.GameStateRunning:
		c.printf("They're off!\n")
	case models.GameStateIdle:
		c.printf("Back at the main menu.\n")
	}
}

func (c *Console) onBalanceChange(ctx context.Context, event events.Event) {
	change, ok := event.(events.BalanceChangeEvent)
	if !ok {
		return
	}
	c.printf("Balance %d -> %d (%s)\n", change.OldBalance, change.NewBalance, change.TransactionType)
}

func (c *Console) onResultDialog(ctx context.Context, event events.Event) {
	dialog, ok := event.(events.ResultDialogChangedEvent)
	if !ok || !dialog.Visible || dialog.Result == nil {
		return
	}
	result := dialog.Result
	c.printf("=== Race result ===\n")
	for rank, number := range result.FinishOrder {
		c.printf("  %d. #%d %s\n", rank+1, number, models.HorseName(number))
	}
	for _, p := range result.Payouts {
		c.printf("  Bet %d on #%d finished %d: x%.1f = %d\n",
			p.Bet.Amount, p.Bet.HorseNumber, p.Rank, p.Multiplier, p.Winnings)
	}
	c.printf("Winnings: %d  Stake: %d  Net: %+d (%.1f%%)  Balance: %d\n",
		result.TotalWinnings, result.TotalLosses, result.NetChange, result.NetChangePercentage(), result.NewBalance)
	c.printf("Type 'dismiss' to close, 'menu' for the main menu.\n")
}

func (c *Console) onUserChanged(ctx context.Context, event events.Event) {
	change, ok := event.(events.UserChangedEvent)
	if !ok {
		return
	}
	c.printf("Hello, %s!\n", change.Username)
}

func (c *Console) onMuteChanged(ctx context.Context, event events.Event) {
	change, ok := event.(events.MuteChangedEvent)
	if !ok {
		return
	}
	state := "unmuted"
	if change.Muted {
		state = "muted"
	}
	c.printf("%s %s\n", change.Channel, state)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
