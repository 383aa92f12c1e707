package service

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"derby/config"
	"derby/events"
	"derby/loop"
	"derby/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory persistence backend shared by every unit of
// work a memoryUnitOfWorkFactory creates
type memoryStore struct {
	mu        sync.Mutex
	prefs     map[string]string
	history   []*models.BalanceHistory
	nextID    int64
	commits   int
	commitErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{prefs: make(map[string]string)}
}

func prefKey(store models.PreferenceStore, key string) string {
	return string(store) + "/" + key
}

func (s *memoryStore) pref(store models.PreferenceStore, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.prefs[prefKey(store, key)]
	return v, ok
}

func (s *memoryStore) setPref(store models.PreferenceStore, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefKey(store, key)] = value
}

func (s *memoryStore) ledger() []*models.BalanceHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.BalanceHistory(nil), s.history...)
}

type memoryUnitOfWorkFactory struct {
	store *memoryStore
}

func (f *memoryUnitOfWorkFactory) Create() UnitOfWork {
	return &memoryUnitOfWork{store: f.store}
}

type memoryUnitOfWork struct {
	store   *memoryStore
	prefs   map[string]string
	history []*models.BalanceHistory
}

func (u *memoryUnitOfWork) Begin(ctx context.Context) error {
	u.prefs = make(map[string]string)
	return nil
}

func (u *memoryUnitOfWork) Commit() error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if u.store.commitErr != nil {
		return u.store.commitErr
	}
	for k, v := range u.prefs {
		u.store.prefs[k] = v
	}
	u.store.history = append(u.store.history, u.history...)
	u.store.commits++
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	u.prefs = nil
	u.history = nil
	return nil
}

func (u *memoryUnitOfWork) PreferenceRepository() PreferenceRepository {
	return memoryPreferences{u}
}

func (u *memoryUnitOfWork) BalanceHistoryRepository() BalanceHistoryRepository {
	return memoryHistory{u}
}

type memoryPreferences struct{ u *memoryUnitOfWork }

func (r memoryPreferences) Get(ctx context.Context, store models.PreferenceStore, key string) (string, bool, error) {
	if v, ok := r.u.prefs[prefKey(store, key)]; ok {
		return v, true, nil
	}
	v, ok := r.u.store.pref(store, key)
	return v, ok, nil
}

func (r memoryPreferences) Set(ctx context.Context, store models.PreferenceStore, key, value string) error {
	r.u.prefs[prefKey(store, key)] = value
	return nil
}

type memoryHistory struct{ u *memoryUnitOfWork }

func (r memoryHistory) Record(ctx context.Context, history *models.BalanceHistory) error {
	r.u.store.mu.Lock()
	r.u.store.nextID++
	history.ID = r.u.store.nextID
	r.u.store.mu.Unlock()
	history.CreatedAt = time.Now().UTC()
	r.u.history = append(r.u.history, history)
	return nil
}

func (r memoryHistory) GetRecent(ctx context.Context, limit int) ([]*models.BalanceHistory, error) {
	all := r.u.store.ledger()
	sort.SliceStable(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// fakePlayer is a scriptable MusicPlayer
type fakePlayer struct {
	playing  bool
	volume   float64
	starts   int
	pauses   int
	released bool
	startErr error
	onError  func(error)
}

func (p *fakePlayer) Start() error {
	p.starts++
	if p.startErr != nil {
		return p.startErr
	}
	p.playing = true
	return nil
}

func (p *fakePlayer) Pause() error {
	p.pauses++
	p.playing = false
	return nil
}

func (p *fakePlayer) IsPlaying() bool { return p.playing }

func (p *fakePlayer) SetVolume(volume float64) { p.volume = volume }

func (p *fakePlayer) Release() error {
	p.released = true
	p.playing = false
	return nil
}

type playedEffect struct {
	effect models.EffectID
	stream StreamID
	volume float64
	loop   bool
}

// fakeAudioBackend records every call. Effect loads complete only when
// completeLoads is called, unless autoLoad is set.
type fakeAudioBackend struct {
	autoLoad     bool
	focusResult  models.FocusRequestResult
	failNextOpen error
	playErr      error

	players       []*fakePlayer
	nextStartErr  error
	sampleEffects map[SampleID]models.EffectID
	pendingLoads  []func()
	loadCalls     map[models.EffectID]int
	nextSample    SampleID
	nextStream    StreamID

	played        []playedEffect
	stopped       []StreamID
	streamVolumes map[StreamID]float64
	live          map[StreamID]bool

	focusRequests int
	abandons      int
	onFocus       func(models.FocusChange)
	released      bool
}

func newFakeAudioBackend() *fakeAudioBackend {
	return &fakeAudioBackend{
		autoLoad:      true,
		focusResult:   models.FocusRequestGranted,
		sampleEffects: make(map[SampleID]models.EffectID),
		loadCalls:     make(map[models.EffectID]int),
		streamVolumes: make(map[StreamID]float64),
		live:          make(map[StreamID]bool),
	}
}

func (b *fakeAudioBackend) OpenMusic(track models.TrackID, onError func(error)) (MusicPlayer, error) {
	if b.failNextOpen != nil {
		err := b.failNextOpen
		b.failNextOpen = nil
		return nil, err
	}
	p := &fakePlayer{onError: onError, startErr: b.nextStartErr}
	b.nextStartErr = nil
	b.players = append(b.players, p)
	return p, nil
}

func (b *fakeAudioBackend) LoadEffect(id models.EffectID, onLoaded func(SampleID, error)) (SampleID, error) {
	b.loadCalls[id]++
	b.nextSample++
	sample := b.nextSample
	b.sampleEffects[sample] = id
	complete := func() { onLoaded(sample, nil) }
	if b.autoLoad {
		complete()
	} else {
		b.pendingLoads = append(b.pendingLoads, complete)
	}
	return sample, nil
}

func (b *fakeAudioBackend) completeLoads() {
	loads := b.pendingLoads
	b.pendingLoads = nil
	for _, load := range loads {
		load()
	}
}

func (b *fakeAudioBackend) PlayEffect(sample SampleID, volume float64, loop bool) (StreamID, error) {
	if b.playErr != nil {
		return 0, b.playErr
	}
	b.nextStream++
	b.played = append(b.played, playedEffect{
		effect: b.sampleEffects[sample],
		stream: b.nextStream,
		volume: volume,
		loop:   loop,
	})
	b.streamVolumes[b.nextStream] = volume
	if loop {
		b.live[b.nextStream] = true
	}
	return b.nextStream, nil
}

func (b *fakeAudioBackend) StopEffect(stream StreamID) {
	b.stopped = append(b.stopped, stream)
	delete(b.live, stream)
}

func (b *fakeAudioBackend) SetEffectVolume(stream StreamID, volume float64) {
	b.streamVolumes[stream] = volume
}

func (b *fakeAudioBackend) RequestFocus(onChange func(models.FocusChange)) models.FocusRequestResult {
	b.focusRequests++
	b.onFocus = onChange
	return b.focusResult
}

func (b *fakeAudioBackend) AbandonFocus() { b.abandons++ }

func (b *fakeAudioBackend) Release() { b.released = true }

func (b *fakeAudioBackend) player() *fakePlayer {
	if len(b.players) == 0 {
		return nil
	}
	return b.players[len(b.players)-1]
}

// playCount counts one-shot and looping plays of an effect
func (b *fakeAudioBackend) playCount(effect models.EffectID) int {
	n := 0
	for _, p := range b.played {
		if p.effect == effect {
			n++
		}
	}
	return n
}

func (b *fakeAudioBackend) liveLoops() int { return len(b.live) }

// eventRecorder captures every event emitted on a bus
type eventRecorder struct {
	events []events.Event
}

func recordEvents(bus *events.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.SubscribeAll(func(ctx context.Context, event events.Event) {
		r.events = append(r.events, event)
	})
	return r
}

func (r *eventRecorder) types() []events.EventType {
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *eventRecorder) states() []models.GameState {
	var out []models.GameState
	for _, e := range r.events {
		if change, ok := e.(events.GameStateChangedEvent); ok {
			out = append(out, change.NewState)
		}
	}
	return out
}

func (r *eventRecorder) countdowns() []events.CountdownChangedEvent {
	var out []events.CountdownChangedEvent
	for _, e := range r.events {
		if c, ok := e.(events.CountdownChangedEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *eventRecorder) reset() { r.events = nil }

// testRig wires a loop on a mock clock, a bus and in-memory persistence
type testRig struct {
	ctx      context.Context
	clock    *clock.Mock
	loop     *loop.Loop
	bus      *events.Bus
	store    *memoryStore
	factory  *memoryUnitOfWorkFactory
	backend  *fakeAudioBackend
	recorder *eventRecorder
	tuning   config.Tuning
}

func newTestRig() *testRig {
	clk := clock.NewMock()
	clk.Set(testNow)
	store := newMemoryStore()
	bus := events.NewBus()
	return &testRig{
		ctx:      context.Background(),
		clock:    clk,
		loop:     loop.New(clk),
		bus:      bus,
		store:    store,
		factory:  &memoryUnitOfWorkFactory{store: store},
		backend:  newFakeAudioBackend(),
		recorder: recordEvents(bus),
		tuning:   config.DefaultTuning(),
	}
}

func (r *testRig) newEngine(t *testing.T, seed int64) *RaceEngine {
	t.Helper()
	engine, err := NewRaceEngine(r.ctx, r.tuning.Race, r.loop, r.factory, r.bus, rand.New(rand.NewSource(seed)), nil)
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine
}

func (r *testRig) newAudio(t *testing.T, seed int64) *AudioSession {
	t.Helper()
	audio, err := NewAudioSession(r.ctx, r.tuning.Audio, r.loop, r.backend, r.factory, r.bus, rand.New(rand.NewSource(seed)), nil)
	require.NoError(t, err)
	// deliver the preload callbacks
	r.loop.RunPending()
	t.Cleanup(audio.Close)
	return audio
}

// advance moves virtual time forward, running whatever falls due
func (r *testRig) advance(d time.Duration) {
	r.loop.Advance(d)
}

// runRace drives the loop until the engine leaves RUNNING or the limit passes
func (r *testRig) runRace(t *testing.T, engine *RaceEngine) {
	t.Helper()
	for i := 0; i < 10000 && engine.State().InRace(); i++ {
		r.advance(100 * time.Millisecond)
	}
	require.Equal(t, models.GameStateResult, engine.State(), "race did not finish")
}

var errBoom = errors.New("boom")

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
