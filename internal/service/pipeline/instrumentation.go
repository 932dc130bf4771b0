package pipeline

import "go.opentelemetry.io/otel"

const scopeName = "live-translate-service/internal/service/pipeline"

var tracer = otel.Tracer(scopeName)
