package main

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_api_requests",
	Help: "Number of API requests, by route and response status",
}, []string{"method", "route", "status"})

var apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_api_request_duration_sec",
	Help:    "Duration of API requests",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
}, []string{"method", "route"})

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		// route template, not the raw path, to bound cardinality
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		status := c.Response().Status
		if err != nil {
			status, _ = errorStatus(err)
		}
		method := c.Request().Method
		apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		apiRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return err
	}
}
