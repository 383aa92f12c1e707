package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SpeedRange is a half-open interval [Min, Max) for per-tick movement
type SpeedRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// RaceTuning holds the race engine constants
type RaceTuning struct {
	TotalHorses    int           `yaml:"total_horses"`
	InitialCoins   int64         `yaml:"initial_coins"`
	CountdownStart int           `yaml:"countdown_start"`
	CountdownStep  time.Duration `yaml:"countdown_step"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	FinishLine     float64       `yaml:"finish_line"`
	BurstTrigger   float64       `yaml:"burst_trigger"`
	NormalSpeed    SpeedRange    `yaml:"normal_speed"`
	BoostedSpeed   SpeedRange    `yaml:"boosted_speed"`
	BurstSpeed     SpeedRange    `yaml:"burst_speed"`
	// RankMultipliers[i] is the payout multiplier for rank i+1; ranks past
	// the end of the table pay nothing
	RankMultipliers []string `yaml:"rank_multipliers"`
}

// AudioTuning holds the audio session constants
type AudioTuning struct {
	BgmVolume        float64       `yaml:"bgm_volume"`
	BgmDuckVolume    float64       `yaml:"bgm_duck_volume"`
	SfxVolume        float64       `yaml:"sfx_volume"`
	SfxDuckVolume    float64       `yaml:"sfx_duck_volume"`
	VocalDelayMin    time.Duration `yaml:"vocal_delay_min"`
	VocalDelayMax    time.Duration `yaml:"vocal_delay_max"`
	GallopRetry      time.Duration `yaml:"gallop_retry"`
	ResultDialogWait time.Duration `yaml:"result_dialog_wait"`
}

// Tuning is the content of the tuning file
type Tuning struct {
	Race  RaceTuning  `yaml:"race"`
	Audio AudioTuning `yaml:"audio"`
}

// DefaultTuning returns the built-in constants
func DefaultTuning() Tuning {
	return Tuning{
		Race: RaceTuning{
			TotalHorses:     4,
			InitialCoins:    100,
			CountdownStart:  3,
			CountdownStep:   time.Second,
			TickInterval:    100 * time.Millisecond,
			FinishLine:      100,
			BurstTrigger:    30,
			NormalSpeed:     SpeedRange{Min: 0.1, Max: 0.7},
			BoostedSpeed:    SpeedRange{Min: 0.1, Max: 0.6},
			BurstSpeed:      SpeedRange{Min: 0.8, Max: 2.0},
			RankMultipliers: []string{"2.0", "1.3", "0.5", "0.0"},
		},
		Audio: AudioTuning{
			BgmVolume:        1.0,
			BgmDuckVolume:    0.2,
			SfxVolume:        1.0,
			SfxDuckVolume:    0.5,
			VocalDelayMin:    2 * time.Second,
			VocalDelayMax:    6 * time.Second,
			GallopRetry:      150 * time.Millisecond,
			ResultDialogWait: 2 * time.Second,
		},
	}
}

// LoadTuning reads a YAML tuning file. Keys missing from the file keep
// their default values.
func LoadTuning(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("failed to read tuning file %s: %w", path, err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes YAML on top of the defaults and validates the result
func ParseTuning(data []byte) (Tuning, error) {
	tuning := DefaultTuning()
	if err := yaml.Unmarshal(data, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("failed to parse tuning: %w", err)
	}
	if err := tuning.Validate(); err != nil {
		return Tuning{}, err
	}
	return tuning, nil
}

// Validate rejects tunings the engine can't run with
func (t Tuning) Validate() error {
	r := t.Race
	if r.TotalHorses < 2 {
		return fmt.Errorf("race.total_horses must be at least 2, got %d", r.TotalHorses)
	}
	if r.InitialCoins < 0 {
		return fmt.Errorf("race.initial_coins must not be negative")
	}
	if r.CountdownStart < 0 {
		return fmt.Errorf("race.countdown_start must not be negative")
	}
	if r.CountdownStep <= 0 || r.TickInterval <= 0 {
		return fmt.Errorf("race.countdown_step and race.tick_interval must be positive")
	}
	if r.FinishLine <= 0 || r.BurstTrigger < 0 || r.BurstTrigger > r.FinishLine {
		return fmt.Errorf("race.burst_trigger must lie between 0 and race.finish_line")
	}
	for name, sr := range map[string]SpeedRange{
		"normal_speed":  r.NormalSpeed,
		"boosted_speed": r.BoostedSpeed,
		"burst_speed":   r.BurstSpeed,
	} {
		if sr.Min <= 0 || sr.Max <= sr.Min {
			return fmt.Errorf("race.%s must satisfy 0 < min < max, got [%v, %v)", name, sr.Min, sr.Max)
		}
	}
	if len(r.RankMultipliers) == 0 {
		return fmt.Errorf("race.rank_multipliers must not be empty")
	}
	for i, m := range r.RankMultipliers {
		d, err := decimal.NewFromString(m)
		if err != nil {
			return fmt.Errorf("race.rank_multipliers[%d]: %w", i, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("race.rank_multipliers[%d] must not be negative, got %s", i, m)
		}
	}

	a := t.Audio
	for name, v := range map[string]float64{
		"bgm_volume":      a.BgmVolume,
		"bgm_duck_volume": a.BgmDuckVolume,
		"sfx_volume":      a.SfxVolume,
		"sfx_duck_volume": a.SfxDuckVolume,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("audio.%s must be within [0, 1], got %v", name, v)
		}
	}
	if a.VocalDelayMin <= 0 || a.VocalDelayMax <= a.VocalDelayMin {
		return fmt.Errorf("audio.vocal_delay_min must be positive and below audio.vocal_delay_max")
	}
	if a.GallopRetry <= 0 {
		return fmt.Errorf("audio.gallop_retry must be positive")
	}
	return nil
}

// Multipliers returns the rank multiplier table as exact decimals. The
// table must have passed Validate.
func (r RaceTuning) Multipliers() []decimal.Decimal {
	out := make([]decimal.Decimal, len(r.RankMultipliers))
	for i, m := range r.RankMultipliers {
		out[i] = decimal.RequireFromString(m)
	}
	return out
}
