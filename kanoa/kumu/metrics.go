/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package kumu

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	PrometheusNamespace             = "kanoa"
	PrometheusScrapeIntervalSeconds = 60
)

const (
	MetricInstances     = "instances"
	MetricInFlightTasks = "provisioning_tasks_in_flight"

	MetricProvisioningFailures = "provisioning_failures_total"
	MetricLifecycleOps         = "lifecycle_operations_total"
)

// InstanceCounter reports the number of instances per status.
type InstanceCounter interface {
	CountInstancesByStatus(ctx context.Context) (map[string]int, error)
}

type KumuExporter struct {
	scheduler *time.Ticker
	mutex     sync.RWMutex

	counter InstanceCounter
	tasks   func() int

	up           prometheus.Gauge
	totalScrapes prometheus.Counter

	Metrics  map[string]*prometheus.GaugeVec
	Counters map[string]*prometheus.CounterVec
}

func (e *KumuExporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.up.Desc()
	ch <- e.totalScrapes.Desc()

	for _, m := range e.Metrics {
		m.Describe(ch)
	}
	for _, c := range e.Counters {
		c.Describe(ch)
	}
}

func (e *KumuExporter) Collect(ch chan<- prometheus.Metric) {
	// Protect metrics from concurrent collects.
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	ch <- e.up
	ch <- e.totalScrapes

	for _, m := range e.Metrics {
		m.Collect(ch)
	}
	for _, c := range e.Counters {
		c.Collect(ch)
	}
}

func (e *KumuExporter) Schedule() {
	for range e.scheduler.C {
		e.Scrape(context.Background())
	}
}

func newMetric(metricName string, docString string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: PrometheusNamespace,
			Name:      metricName,
			Help:      docString,
		},
		append([]string{}, labels...),
	)
}

func newCounter(metricName string, docString string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: PrometheusNamespace,
			Name:      metricName,
			Help:      docString,
		},
		append([]string{}, labels...),
	)
}

func (e *KumuExporter) SetupMetrics() {
	e.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: PrometheusNamespace,
		Name:      "up",
		Help:      "Was the last scrape of Kanoa metrics successful.",
	})

	e.totalScrapes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: PrometheusNamespace,
		Name:      "total_scrapes",
		Help:      "Current total Kanoa metrics scrapes.",
	})

	e.Metrics = map[string]*prometheus.GaugeVec{
		MetricInstances:     newMetric(MetricInstances, "Kanoa instances count", "status"),
		MetricInFlightTasks: newMetric(MetricInFlightTasks, "Kanoa provisioning workflows currently running"),
	}

	e.Counters = map[string]*prometheus.CounterVec{
		MetricProvisioningFailures: newCounter(MetricProvisioningFailures, "Kanoa provisioning workflows which failed", "stage"),
		MetricLifecycleOps:         newCounter(MetricLifecycleOps, "Kanoa lifecycle operations performed", "op"),
	}
}

func (e *KumuExporter) Scrape(ctx context.Context) {
	counts, err := e.counter.CountInstancesByStatus(ctx)

	// Protect metrics from concurrent collects.
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.totalScrapes.Inc()
	if err != nil {
		klog.Errorf("Unable to collect instance metrics: %v", err)
		e.up.Set(0)
		return
	}

	e.Metrics[MetricInstances].Reset()
	for status, n := range counts {
		e.Metrics[MetricInstances].WithLabelValues(status).Set(float64(n))
	}
	if e.tasks != nil {
		e.Metrics[MetricInFlightTasks].WithLabelValues().Set(float64(e.tasks()))
	}
	e.up.Set(1)
}

// ProvisioningFailed counts a workflow which stopped at stage.
func (e *KumuExporter) ProvisioningFailed(stage string) {
	if e == nil {
		return
	}
	e.Counters[MetricProvisioningFailures].WithLabelValues(stage).Inc()
}

// LifecycleOp counts a successful lifecycle operation.
func (e *KumuExporter) LifecycleOp(op string) {
	if e == nil {
		return
	}
	e.Counters[MetricLifecycleOps].WithLabelValues(op).Inc()
}

func NewExporter(counter InstanceCounter, tasks func() int) *KumuExporter {
	e := KumuExporter{
		scheduler: time.NewTicker(time.Second * time.Duration(PrometheusScrapeIntervalSeconds)),
		counter:   counter,
		tasks:     tasks,
	}
	e.SetupMetrics()
	klog.Infof("Registered Prometheus exporter ...")

	return &e
}

// Start runs the initial scrape and the periodic ones.
func (e *KumuExporter) Start() {
	go e.Schedule()
	go e.Scrape(context.Background()) // initial scrape
}

func (e *KumuExporter) Stop() {
	e.scheduler.Stop()
}

func (e *KumuExporter) HttpHandler() http.Handler {
	// Use our own registry and not the default one,
	// because we don't want all the go stats
	registry := prometheus.NewRegistry()
	registry.MustRegister(e)

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
