//go:build !ebitenaudio

package audio

import (
	"fmt"

	"derby/service"
)

func newEbitenBackend(assetsDir string) (service.AudioBackend, error) {
	return nil, fmt.Errorf("ebiten audio backend requires building with -tags ebitenaudio")
}
