package audio

import (
	"sync"

	"derby/models"
	"derby/service"

	log "github.com/sirupsen/logrus"
)

// HeadlessBackend logs every playback request instead of producing sound.
// Samples are ready as soon as they are requested and focus is always granted.
type HeadlessBackend struct {
	mu         sync.Mutex
	nextSample service.SampleID
	nextStream service.StreamID
	samples    map[service.SampleID]models.EffectID
	onFocus    func(models.FocusChange)
	released   bool
}

// NewHeadlessBackend creates a backend with no audio device
func NewHeadlessBackend() *HeadlessBackend {
	return &HeadlessBackend{
		samples: make(map[service.SampleID]models.EffectID),
	}
}

func (b *HeadlessBackend) OpenMusic(track models.TrackID, onError func(error)) (service.MusicPlayer, error) {
	log.WithField("track", track).Debug("Opened background track")
	return &headlessPlayer{track: track, volume: 1}, nil
}

func (b *HeadlessBackend) LoadEffect(id models.EffectID, onLoaded func(service.SampleID, error)) (service.SampleID, error) {
	b.mu.Lock()
	b.nextSample++
	sample := b.nextSample
	b.samples[sample] = id
	b.mu.Unlock()

	onLoaded(sample, nil)
	return sample, nil
}

func (b *HeadlessBackend) PlayEffect(sample service.SampleID, volume float64, loop bool) (service.StreamID, error) {
	b.mu.Lock()
	b.nextStream++
	stream := b.nextStream
	effect := b.samples[sample]
	b.mu.Unlock()

	log.WithFields(log.Fields{
		"effect": effect,
		"stream": stream,
		"volume": volume,
		"loop":   loop,
	}).Debug("Playing effect")
	return stream, nil
}

func (b *HeadlessBackend) StopEffect(stream service.StreamID) {
	log.WithField("stream", stream).Debug("Stopped effect")
}

func (b *HeadlessBackend) SetEffectVolume(stream service.StreamID, volume float64) {
	log.WithFields(log.Fields{
		"stream": stream,
		"volume": volume,
	}).Debug("Effect volume changed")
}

func (b *HeadlessBackend) RequestFocus(onChange func(models.FocusChange)) models.FocusRequestResult {
	b.mu.Lock()
	b.onFocus = onChange
	b.mu.Unlock()
	return models.FocusRequestGranted
}

func (b *HeadlessBackend) AbandonFocus() {
	b.mu.Lock()
	b.onFocus = nil
	b.mu.Unlock()
}

// SimulateFocusChange delivers a focus change as if another app caused it.
// It reports false when nobody holds focus.
func (b *HeadlessBackend) SimulateFocusChange(change models.FocusChange) bool {
	b.mu.Lock()
	onFocus := b.onFocus
	b.mu.Unlock()
	if onFocus == nil {
		return false
	}
	onFocus(change)
	return true
}

func (b *HeadlessBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = true
	b.onFocus = nil
}

type headlessPlayer struct {
	track   models.TrackID
	playing bool
	volume  float64
}

func (p *headlessPlayer) Start() error {
	p.playing = true
	log.WithFields(log.Fields{
		"track":  p.track,
		"volume": p.volume,
	}).Debug("Background track playing")
	return nil
}

func (p *headlessPlayer) Pause() error {
	p.playing = false
	log.WithField("track", p.track).Debug("Background track paused")
	return nil
}

func (p *headlessPlayer) IsPlaying() bool { return p.playing }

func (p *headlessPlayer) SetVolume(volume float64) { p.volume = volume }

func (p *headlessPlayer) Release() error {
	p.playing = false
	return nil
}
