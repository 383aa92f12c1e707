// Package audio contains the platform backends behind service.AudioBackend.
package audio

import (
	"fmt"

	"derby/config"
	"derby/service"
)

// NewBackend builds the backend selected by configuration
func NewBackend(cfg *config.Config) (service.AudioBackend, error) {
	switch cfg.AudioBackend {
	case config.AudioBackendHeadless, "":
		return NewHeadlessBackend(), nil
	case config.AudioBackendEbiten:
		return newEbitenBackend(cfg.AssetsDir)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.AudioBackend)
	}
}
