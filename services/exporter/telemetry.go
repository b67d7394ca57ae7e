package exporter

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/exporter")
var meter = otel.Meter("services/exporter")

var exportedRows, _ = meter.Int64Counter(
	"exporter.exported_messages",
)
