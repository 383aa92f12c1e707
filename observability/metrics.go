package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"derby/config"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics for the game. It satisfies
// service.Metrics and records nothing until initialized with metrics enabled.
type MetricsProvider struct {
	config        *config.Config
	reader        sdkmetric.Reader // overrides the configured exporter when set
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	enabled       bool
	initialized   bool
	mu            sync.RWMutex

	// Metric instruments
	betsPlacedCounter        metric.Int64Counter
	betsRejectedCounter      metric.Int64Counter
	betsAmountCounter        metric.Int64Counter
	racesStartedCounter      metric.Int64Counter
	racesFinishedCounter     metric.Int64Counter
	raceStakeCounter         metric.Int64Counter
	racePayoutCounter        metric.Int64Counter
	audioRecoveriesCounter   metric.Int64Counter
	audioFocusChangesCounter metric.Int64Counter
	natsPublishedCounter     metric.Int64Counter
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// newMetricsProviderWithReader creates a provider that collects into reader
func newMetricsProviderWithReader(cfg *config.Config, reader sdkmetric.Reader) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
		reader: reader,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Debug("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	reader := mp.reader
	if reader == nil {
		// Create appropriate exporter based on config
		switch mp.config.OTelExporterType {
		case "console":
			exporter, err := stdoutmetric.New()
			if err != nil {
				return fmt.Errorf("failed to create console exporter: %w", err)
			}
			log.Info("Using console metric exporter")
			reader = sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			)

		case "none":
			log.Info("Metrics export disabled (exporter_type='none')")
			mp.initialized = true
			return nil

		default:
			return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
		}
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	// Set as global meter provider
	otel.SetMeterProvider(mp.meterProvider)

	mp.meter = mp.meterProvider.Meter("derby")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.enabled = true
	mp.initialized = true
	log.Info("Metrics provider initialized successfully")
	return nil
}

// createInstruments creates all metric instruments
func (mp *MetricsProvider) createInstruments() error {
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&mp.betsPlacedCounter, BetsPlacedTotal, "Total number of bets placed", "1"},
		{&mp.betsRejectedCounter, BetsRejectedTotal, "Total number of rejected bets", "1"},
		{&mp.betsAmountCounter, BetsAmountTotal, "Total coins put on bets", "{coin}"},
		{&mp.racesStartedCounter, RacesStartedTotal, "Total number of races started", "1"},
		{&mp.racesFinishedCounter, RacesFinishedTotal, "Total number of races finished", "1"},
		{&mp.raceStakeCounter, RaceStakeTotal, "Total coins staked on races", "{coin}"},
		{&mp.racePayoutCounter, RacePayoutTotal, "Total coins paid out by races", "{coin}"},
		{&mp.audioRecoveriesCounter, AudioRecoveriesTotal, "Total number of background player recoveries", "1"},
		{&mp.audioFocusChangesCounter, AudioFocusChangesTotal, "Total number of audio focus changes", "1"},
		{&mp.natsPublishedCounter, NATSMessagesPublishedTotal, "Total number of NATS messages published", "1"},
	}

	for _, c := range counters {
		counter, err := mp.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}
	return nil
}

// Shutdown flushes and shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordBetPlaced records an accepted bet
func (mp *MetricsProvider) RecordBetPlaced(amount int64) {
	if !mp.isEnabled() {
		return
	}
	mp.betsPlacedCounter.Add(context.Background(), 1)
	mp.betsAmountCounter.Add(context.Background(), amount)
}

// RecordBetRejected records a bet that failed validation
func (mp *MetricsProvider) RecordBetRejected(reason string) {
	if !mp.isEnabled() {
		return
	}
	mp.betsRejectedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelReason, reason),
		),
	)
}

// RecordRaceStarted records a race start and its stake
func (mp *MetricsProvider) RecordRaceStarted(stake int64) {
	if !mp.isEnabled() {
		return
	}
	mp.racesStartedCounter.Add(context.Background(), 1)
	mp.raceStakeCounter.Add(context.Background(), stake)
}

// RecordRaceFinished records a completed race and its payout
func (mp *MetricsProvider) RecordRaceFinished(winnings, losses int64) {
	if !mp.isEnabled() {
		return
	}
	mp.racesFinishedCounter.Add(context.Background(), 1)
	mp.racePayoutCounter.Add(context.Background(), winnings)
}

// RecordAudioRecovery records a recreated background player
func (mp *MetricsProvider) RecordAudioRecovery() {
	if !mp.isEnabled() {
		return
	}
	mp.audioRecoveriesCounter.Add(context.Background(), 1)
}

// RecordFocusChange records a system audio focus change
func (mp *MetricsProvider) RecordFocusChange(change string) {
	if !mp.isEnabled() {
		return
	}
	mp.audioFocusChangesCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelChange, change),
		),
	)
}

// RecordNATSMessagePublished records an event forwarded to NATS
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}
	mp.natsPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelEventType, eventType),
		),
	)
}

// isEnabled checks if metrics are enabled and instruments exist
func (mp *MetricsProvider) isEnabled() bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.enabled
}
