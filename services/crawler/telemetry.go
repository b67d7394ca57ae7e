package crawler

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/crawler")
var meter = otel.Meter("services/crawler")

var batchFailures, _ = meter.Int64Counter(
	"crawler.batch_failures",
)
var notifyFailures, _ = meter.Int64Counter(
	"crawler.notify_failures",
)
