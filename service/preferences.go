package service

import (
	"context"
	"fmt"
	"strconv"

	"derby/models"
)

// loadGamePrefs reads the player profile. found is false on first launch.
func loadGamePrefs(ctx context.Context, repo PreferenceRepository, initialCoins int64) (prefs models.GamePrefs, found bool, err error) {
	prefs = models.GamePrefs{Coins: initialCoins, FirstRun: true}

	username, _, err := repo.Get(ctx, models.StoreGame, models.KeyUsername)
	if err != nil {
		return prefs, false, fmt.Errorf("failed to read username: %w", err)
	}
	prefs.Username = username

	coins, found, err := repo.Get(ctx, models.StoreGame, models.KeyCoins)
	if err != nil {
		return prefs, false, fmt.Errorf("failed to read coins: %w", err)
	}
	if found {
		parsed, err := strconv.ParseInt(coins, 10, 64)
		if err != nil || parsed < 0 {
			return prefs, false, fmt.Errorf("stored coins %q are not a valid balance", coins)
		}
		prefs.Coins = parsed
	}

	firstRun, ok, err := repo.Get(ctx, models.StoreGame, models.KeyFirstRun)
	if err != nil {
		return prefs, false, fmt.Errorf("failed to read firstRun: %w", err)
	}
	if ok {
		prefs.FirstRun = parseBool(firstRun, true)
	}

	return prefs, found, nil
}

// saveGamePrefs writes the whole player profile
func saveGamePrefs(ctx context.Context, repo PreferenceRepository, prefs models.GamePrefs) error {
	if err := repo.Set(ctx, models.StoreGame, models.KeyUsername, prefs.Username); err != nil {
		return fmt.Errorf("failed to save username: %w", err)
	}
	if err := saveCoins(ctx, repo, prefs.Coins); err != nil {
		return err
	}
	if err := repo.Set(ctx, models.StoreGame, models.KeyFirstRun, strconv.FormatBool(prefs.FirstRun)); err != nil {
		return fmt.Errorf("failed to save firstRun: %w", err)
	}
	return nil
}

func saveCoins(ctx context.Context, repo PreferenceRepository, coins int64) error {
	if err := repo.Set(ctx, models.StoreGame, models.KeyCoins, strconv.FormatInt(coins, 10)); err != nil {
		return fmt.Errorf("failed to save coins: %w", err)
	}
	return nil
}

// loadAudioPrefs reads both mute flags; both default to false
func loadAudioPrefs(ctx context.Context, repo PreferenceRepository) (models.AudioPrefs, error) {
	var prefs models.AudioPrefs

	sfx, _, err := repo.Get(ctx, models.StoreAudio, models.KeyMuteSfx)
	if err != nil {
		return prefs, fmt.Errorf("failed to read %s: %w", models.KeyMuteSfx, err)
	}
	bgm, _, err := repo.Get(ctx, models.StoreAudio, models.KeyMuteBgm)
	if err != nil {
		return prefs, fmt.Errorf("failed to read %s: %w", models.KeyMuteBgm, err)
	}

	prefs.MuteSfx = parseBool(sfx, false)
	prefs.MuteBgm = parseBool(bgm, false)
	return prefs, nil
}

func saveMute(ctx context.Context, repo PreferenceRepository, channel models.Channel, muted bool) error {
	key := models.KeyMuteSfx
	if channel == models.ChannelBgm {
		key = models.KeyMuteBgm
	}
	if err := repo.Set(ctx, models.StoreAudio, key, strconv.FormatBool(muted)); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func parseBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// withUnitOfWork runs fn inside a fresh unit of work and commits it
func withUnitOfWork(ctx context.Context, factory UnitOfWorkFactory, fn func(uow UnitOfWork) error) error {
	uow := factory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := fn(uow); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
