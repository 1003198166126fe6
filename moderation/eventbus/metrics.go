package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_events_published",
	Help: "Number of events appended to the outbound stream",
}, []string{"type", "status"})

var eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_events_consumed",
	Help: "Number of inbound events handled, by outcome",
}, []string{"type", "outcome"})

var eventHandleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_event_handle_duration_sec",
	Help:    "Duration of inbound event handling",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
}, []string{"type"})

var eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_events_dropped",
	Help: "Number of entries dropped by the in-process bus because no reader kept up",
}, []string{"stream"})
