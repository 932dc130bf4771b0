package translate

import "go.opentelemetry.io/otel"

const scopeName = "live-translate-service/internal/service/translate"

var tracer = otel.Tracer(scopeName)
