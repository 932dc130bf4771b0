package speech

import "go.opentelemetry.io/otel"

const scopeName = "live-translate-service/internal/service/speech"

var tracer = otel.Tracer(scopeName)
