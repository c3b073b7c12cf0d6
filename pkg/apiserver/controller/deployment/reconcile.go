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

package deployment

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	cron "github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/common/config"
	"github.com/mlpanel/deploy/pkg/common/logger"
	"github.com/mlpanel/deploy/pkg/model"
)

const defaultReconcileConcurrency = 10

type ReconcileResponse struct {
	Checked int     `json:"checked"`
	Demoted []int64 `json:"demoted"`
	// Skipped is set when another pass was still running
	Skipped bool `json:"skipped,omitempty"`
}

// Reconcile pings every running deployment once and demotes the unreachable ones to stopped.
// Overlapping passes are skipped.
func (m *DeploymentManager) Reconcile(ctx context.Context) (*ReconcileResponse, error) {
	if !atomic.CompareAndSwapInt32(&m.reconciling, 0, 1) {
		log.Infof("reconcile already in progress, skip")
		return &ReconcileResponse{Demoted: []int64{}, Skipped: true}, nil
	}
	defer atomic.StoreInt32(&m.reconciling, 0)

	running, err := m.deployments.ListDeploymentsByStatus(model.DeploymentStatusRunning)
	if err != nil {
		return nil, err
	}
	concurrency := m.conf.Monitor.ReconcileConcurrency
	if concurrency <= 0 {
		concurrency = defaultReconcileConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		demoted = make([]int64, 0)
	)
	for _, deployment := range running {
		d := deployment
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if m.reconcileOne(ctx, d) {
				mu.Lock()
				demoted = append(demoted, d.ID)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			log.Errorf("submit reconcile of deployment %d failed: %v", d.ID, submitErr)
		}
	}
	wg.Wait()

	sort.Slice(demoted, func(i, j int) bool { return demoted[i] < demoted[j] })
	m.metrics.ObserveReconcile(len(demoted), time.Now())
	log.Infof("reconcile checked %d running deployments, demoted %v", len(running), demoted)
	return &ReconcileResponse{Checked: len(running), Demoted: demoted}, nil
}

// reconcileOne returns true when the deployment was demoted
func (m *DeploymentManager) reconcileOne(ctx context.Context, deployment model.Deployment) bool {
	logEntry := logger.LoggerForDeployment(deployment.ID)
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		logEntry.Warningf("no runtime for type %s: %v", deployment.DeploymentType, err)
		return false
	}
	host, port, ok := deployment.Address()
	if ok && rt.Ping(ctx, host, port) {
		return false
	}
	// only the record is demoted, a server still booting keeps its process or instance
	if err = m.markStopped(deployment.ID); err != nil {
		logEntry.Warningf("demote unreachable deployment failed: %v", err)
		return false
	}
	logEntry.Infof("deployment unreachable at %s:%d, demoted to stopped", host, port)
	return true
}

// StartReconciler runs a pass at startup when configured and then on the cron schedule
func StartReconciler(m *DeploymentManager, conf *config.MonitorConfig) (*cron.Cron, error) {
	spec := conf.ReconcileSchedule
	if spec == "" {
		spec = config.DefaultReconcileSchedule
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, err
	}
	if conf.ReconcileOnStart {
		if _, err = m.Reconcile(context.Background()); err != nil {
			log.Errorf("reconcile on start failed: %v", err)
		}
	}
	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		if _, err := m.Reconcile(context.Background()); err != nil {
			log.Errorf("scheduled reconcile failed: %v", err)
		}
	}))
	c.Start()
	log.Infof("reconciler scheduled %s", spec)
	return c, nil
}
