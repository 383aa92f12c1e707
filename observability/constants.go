package observability

// Metric name prefixes
const (
	MetricPrefix = "derby"
)

// Metric names
const (
	// Betting metrics
	BetsPlacedTotal   = MetricPrefix + ".bets.placed_total"
	BetsRejectedTotal = MetricPrefix + ".bets.rejected_total"
	BetsAmountTotal   = MetricPrefix + ".bets.amount_total"

	// Race metrics
	RacesStartedTotal  = MetricPrefix + ".races.started_total"
	RacesFinishedTotal = MetricPrefix + ".races.finished_total"
	RaceStakeTotal     = MetricPrefix + ".races.stake_total"
	RacePayoutTotal    = MetricPrefix + ".races.payout_total"

	// Audio metrics
	AudioRecoveriesTotal   = MetricPrefix + ".audio.recoveries_total"
	AudioFocusChangesTotal = MetricPrefix + ".audio.focus_changes_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"
)

// Label keys
const (
	LabelReason    = "reason"
	LabelChange    = "change"
	LabelEventType = "event_type"
)
