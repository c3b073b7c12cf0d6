/*
Copyright (c) 2022 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DeployMetrics holds the collectors updated by the deployment manager
type DeployMetrics struct {
	operations        *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec
	predictions       *prometheus.CounterVec
	demoted           prometheus.Counter
	lastReconcile     prometheus.Gauge
}

func NewDeployMetrics() *DeployMetrics {
	return &DeployMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOperationTotal,
			Help: toHelp(MetricOperationTotal),
		}, []string{OperationLabel, TypeLabel, ResultLabel}),
		provisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricProvisionDuration,
			Help:    toHelp(MetricProvisionDuration),
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{TypeLabel}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPredictTotal,
			Help: toHelp(MetricPredictTotal),
		}, []string{TypeLabel, ValidityLabel}),
		demoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricReconcileDemotedTotal,
			Help: toHelp(MetricReconcileDemotedTotal),
		}),
		lastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricReconcileLastRun,
			Help: toHelp(MetricReconcileLastRun),
		}),
	}
}

func (m *DeployMetrics) Describe(descs chan<- *prometheus.Desc) {
	m.operations.Describe(descs)
	m.provisionDuration.Describe(descs)
	m.predictions.Describe(descs)
	m.demoted.Describe(descs)
	m.lastReconcile.Describe(descs)
}

func (m *DeployMetrics) Collect(metrics chan<- prometheus.Metric) {
	m.operations.Collect(metrics)
	m.provisionDuration.Collect(metrics)
	m.predictions.Collect(metrics)
	m.demoted.Collect(metrics)
	m.lastReconcile.Collect(metrics)
}

// ObserveOperation counts one manager operation, err decides the result label
func (m *DeployMetrics) ObserveOperation(operation, deploymentType string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.operations.WithLabelValues(operation, deploymentType, result).Inc()
}

func (m *DeployMetrics) ObserveProvision(deploymentType string, start time.Time) {
	m.provisionDuration.WithLabelValues(deploymentType).Observe(time.Since(start).Seconds())
}

func (m *DeployMetrics) ObservePredict(deploymentType, validity string) {
	m.predictions.WithLabelValues(deploymentType, validity).Inc()
}

func (m *DeployMetrics) ObserveReconcile(demoted int, at time.Time) {
	m.demoted.Add(float64(demoted))
	m.lastReconcile.Set(float64(at.Unix()))
}
