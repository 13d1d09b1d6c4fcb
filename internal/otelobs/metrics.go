package otelobs

import "go.opentelemetry.io/otel/metric"

// Metrics holds all daemon metric instruments, exposed via GET /metrics.
type Metrics struct {
	HookRequestDuration metric.Float64Histogram
	HookAccepted        metric.Int64Counter
	HookRejected        metric.Int64Counter
	EventHandleDuration metric.Float64Histogram
	EventHandleErrors   metric.Int64Counter
	MessagingSendErrors metric.Int64Counter
	StreamEdits         metric.Int64Counter
	FallbackTriggers    metric.Int64Counter
	RateLimitRejects    metric.Int64Counter
	BusDroppedEvents    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HookRequestDuration, err = meter.Float64Histogram("discode.hook.request.duration",
		metric.WithDescription("Hook ingestion request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HookAccepted, err = meter.Int64Counter("discode.hook.accepted",
		metric.WithDescription("Hook events accepted for dispatch"),
	)
	if err != nil {
		return nil, err
	}

	m.HookRejected, err = meter.Int64Counter("discode.hook.rejected",
		metric.WithDescription("Hook requests rejected (auth, size, rate, malformed)"),
	)
	if err != nil {
		return nil, err
	}

	m.EventHandleDuration, err = meter.Float64Histogram("discode.event.handle.duration",
		metric.WithDescription("Event handler processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.EventHandleErrors, err = meter.Int64Counter("discode.event.handle.errors",
		metric.WithDescription("Event handler errors"),
	)
	if err != nil {
		return nil, err
	}

	m.MessagingSendErrors, err = meter.Int64Counter("discode.messaging.send.errors",
		metric.WithDescription("Messaging client send/edit failures"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamEdits, err = meter.Int64Counter("discode.stream.edits",
		metric.WithDescription("Streaming status message edits performed"),
	)
	if err != nil {
		return nil, err
	}

	m.FallbackTriggers, err = meter.Int64Counter("discode.fallback.triggers",
		metric.WithDescription("Terminal-buffer fallback watchdog activations"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("discode.ratelimit.rejects",
		metric.WithDescription("Hook requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.BusDroppedEvents, err = meter.Int64Counter("discode.bus.dropped",
		metric.WithDescription("Internal bus events dropped due to a full subscriber buffer"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
