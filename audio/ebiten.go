//go:build ebitenaudio

package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"derby/models"
	"derby/service"

	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
	log "github.com/sirupsen/logrus"
)

const sampleRate = 44100

// EbitenBackend plays WAV assets named <id>.wav from the assets directory.
// Desktop platforms have no focus arbitration, so focus is always granted.
type EbitenBackend struct {
	ctx       *audio.Context
	assetsDir string

	mu         sync.Mutex
	nextSample service.SampleID
	samples    map[service.SampleID][]byte
	nextStream service.StreamID
	streams    map[service.StreamID]*effectStream
}

type effectStream struct {
	player *audio.Player
	loop   bool
}

func newEbitenBackend(assetsDir string) (service.AudioBackend, error) {
	ctx := audio.CurrentContext()
	if ctx == nil {
		ctx = audio.NewContext(sampleRate)
	}
	if _, err := os.Stat(assetsDir); err != nil {
		return nil, fmt.Errorf("failed to open assets directory: %w", err)
	}
	return &EbitenBackend{
		ctx:       ctx,
		assetsDir: assetsDir,
		samples:   make(map[service.SampleID][]byte),
		streams:   make(map[service.StreamID]*effectStream),
	}, nil
}

func (b *EbitenBackend) assetPath(name string) string {
	return filepath.Join(b.assetsDir, name+".wav")
}

func (b *EbitenBackend) OpenMusic(track models.TrackID, onError func(error)) (service.MusicPlayer, error) {
	f, err := os.Open(b.assetPath(string(track)))
	if err != nil {
		return nil, fmt.Errorf("failed to open track %s: %w", track, err)
	}
	stream, err := wav.DecodeWithSampleRate(sampleRate, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode track %s: %w", track, err)
	}
	player, err := b.ctx.NewPlayer(audio.NewInfiniteLoop(stream, stream.Length()))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create player for %s: %w", track, err)
	}
	return &ebitenMusic{ctx: b.ctx, player: player, file: f, onError: onError}, nil
}

func (b *EbitenBackend) LoadEffect(id models.EffectID, onLoaded func(service.SampleID, error)) (service.SampleID, error) {
	b.mu.Lock()
	b.nextSample++
	sample := b.nextSample
	b.mu.Unlock()

	go func() {
		data, err := b.decodeAll(b.assetPath(string(id)))
		if err != nil {
			onLoaded(sample, fmt.Errorf("failed to load effect %s: %w", id, err))
			return
		}
		b.mu.Lock()
		b.samples[sample] = data
		b.mu.Unlock()
		onLoaded(sample, nil)
	}()
	return sample, nil
}

func (b *EbitenBackend) decodeAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream, err := wav.DecodeWithSampleRate(sampleRate, f)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(stream)
}

func (b *EbitenBackend) PlayEffect(sample service.SampleID, volume float64, loop bool) (service.StreamID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.samples[sample]
	if !ok {
		return 0, fmt.Errorf("sample %d is not loaded", sample)
	}
	b.reapLocked()

	var player *audio.Player
	if loop {
		var err error
		player, err = b.ctx.NewPlayer(audio.NewInfiniteLoop(bytes.NewReader(data), int64(len(data))))
		if err != nil {
			return 0, fmt.Errorf("failed to create looping player: %w", err)
		}
	} else {
		player = b.ctx.NewPlayerFromBytes(data)
	}
	player.SetVolume(volume)
	player.Play()

	b.nextStream++
	b.streams[b.nextStream] = &effectStream{player: player, loop: loop}
	return b.nextStream, nil
}

// reapLocked closes one-shot players that have finished
func (b *EbitenBackend) reapLocked() {
	for id, s := range b.streams {
		if !s.loop && !s.player.IsPlaying() {
			s.player.Close()
			delete(b.streams, id)
		}
	}
}

func (b *EbitenBackend) StopEffect(stream service.StreamID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[stream]; ok {
		s.player.Close()
		delete(b.streams, stream)
	}
}

func (b *EbitenBackend) SetEffectVolume(stream service.StreamID, volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.streams[stream]; ok {
		s.player.SetVolume(volume)
	}
}

func (b *EbitenBackend) RequestFocus(onChange func(models.FocusChange)) models.FocusRequestResult {
	return models.FocusRequestGranted
}

func (b *EbitenBackend) AbandonFocus() {}

func (b *EbitenBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.streams {
		s.player.Close()
		delete(b.streams, id)
	}
	b.samples = make(map[service.SampleID][]byte)
}

// ebitenMusic reports a failed audio context once through onError
type ebitenMusic struct {
	ctx      *audio.Context
	player   *audio.Player
	file     *os.File
	onError  func(error)
	reported bool
}

func (m *ebitenMusic) Start() error {
	if err := m.ctx.Err(); err != nil {
		return fmt.Errorf("audio context failed: %w", err)
	}
	m.player.Play()
	return nil
}

func (m *ebitenMusic) Pause() error {
	m.player.Pause()
	return nil
}

func (m *ebitenMusic) IsPlaying() bool {
	if err := m.ctx.Err(); err != nil && !m.reported {
		m.reported = true
		log.WithError(err).Warn("Audio context reported an error")
		go m.onError(err)
	}
	return m.player.IsPlaying()
}

func (m *ebitenMusic) SetVolume(volume float64) {
	m.player.SetVolume(volume)
}

func (m *ebitenMusic) Release() error {
	err := m.player.Close()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}
