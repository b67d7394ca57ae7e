package archive

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/archive")
var meter = otel.Meter("services/archive")

var writtenRecords, _ = meter.Int64Counter(
	"archive.written_records",
)
var failedRecords, _ = meter.Int64Counter(
	"archive.failed_records",
)
