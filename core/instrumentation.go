package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-voiceloop/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	turnsStarted, _ = meter.Int64Counter("voiceloop.turns.started",
		metric.WithDescription("Recordings that were handed to the turn pipeline"))
	turnFailures, _ = meter.Int64Counter("voiceloop.turns.failed",
		metric.WithDescription("Turns that ended in Idle because of a stage or playback failure"))
	reportsGenerated, _ = meter.Int64Counter("voiceloop.reports.generated",
		metric.WithDescription("Report documents that were generated and saved"))
)
