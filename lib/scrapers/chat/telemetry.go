package chat

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/chat")
var meter = otel.Meter("scrapers/chat")

var extractedMessages, _ = meter.Int64Counter(
	"chat.extracted_messages",
)
var extractFailures, _ = meter.Int64Counter(
	"chat.extract_failures",
)
var paginationSteps, _ = meter.Int64Counter(
	"chat.pagination_steps",
)
