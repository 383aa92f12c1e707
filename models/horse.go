package models

import "fmt"

// Horse is a single racer. Position only grows while a race is running.
type Horse struct {
	Number         int
	Position       float64
	Finished       bool
	FinishPosition int // 0 until the race ends, then the 1-based rank
}

// NewHorse creates a horse at the starting line
func NewHorse(number int) *Horse {
	return &Horse{Number: number}
}

// Reset puts the horse back at the starting line
func (h *Horse) Reset() {
	h.Position = 0
	h.Finished = false
	h.FinishPosition = 0
}

// Name returns the display name for the horse number
func (h Horse) Name() string {
	return HorseName(h.Number)
}

// HorseName maps a horse number to its stable display name
func HorseName(number int) string {
	switch number {
	case 1:
		return "Thunder"
	case 2:
		return "Lightning"
	case 3:
		return "Storm"
	case 4:
		return "Blaze"
	default:
		return fmt.Sprintf("Horse %d", number)
	}
}
