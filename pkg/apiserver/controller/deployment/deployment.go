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
	"time"

	"github.com/jinzhu/copier"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/common/config"
	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/common/logger"
	"github.com/mlpanel/deploy/pkg/deployment/runtime"
	"github.com/mlpanel/deploy/pkg/deployment/validation"
	"github.com/mlpanel/deploy/pkg/metrics"
	"github.com/mlpanel/deploy/pkg/model"
	"github.com/mlpanel/deploy/pkg/storage"
)

const (
	OperationCreate  = "create"
	OperationRun     = "run"
	OperationStop    = "stop"
	OperationDelete  = "delete"
	OperationPredict = "predict"
)

// CreateDeploymentRequest convey request for create deployment
type CreateDeploymentRequest struct {
	ProjectID      int64  `json:"project_id,string" validate:"gte=0"`
	ModelID        string `json:"model_id" validate:"required"`
	ModelVersion   string `json:"version"`
	ModelURI       string `json:"model_uri" validate:"required"`
	DeploymentType string `json:"type" validate:"required"`
}

// CreateDeploymentResponse convey response for create and run deployment
type CreateDeploymentResponse struct {
	DeploymentID string `json:"deployment_id"`
}

type ListDeploymentResponse struct {
	Deployments []model.Deployment `json:"deployments"`
}

// IncomingDataView is one row of the validation report
type IncomingDataView struct {
	ID           int64                  `json:"id"`
	DeploymentID int64                  `json:"deployment_id"`
	Payload      string                 `json:"incoming_data"`
	Timestamp    float64                `json:"timestamp"`
	IsValid      int                    `json:"is_valid"`
	Validity     string                 `json:"validity"`
	Anomalies    map[string]interface{} `json:"anomalies" copier:"-"`
}

type ValidationReportResponse struct {
	DeploymentID int64              `json:"deployment_id"`
	Records      []IncomingDataView `json:"records"`
}

// RuntimeGetter resolves the runtime serving a deployment type
type RuntimeGetter interface {
	GetOrCreateRuntime(deploymentType string) (runtime.RuntimeService, error)
}

type Validator interface {
	Validate(ctx context.Context, modelURI string, table *validation.Table) (*validation.Result, error)
}

// DeploymentManager keeps deployment records consistent with the processes and instances serving them.
// It is the only writer of both deployment tables, runtimes only report what they provisioned.
type DeploymentManager struct {
	conf        *config.ServerConfig
	deployments storage.DeploymentStoreInterface
	incoming    storage.IncomingDataStoreInterface
	runtimes    RuntimeGetter
	validator   Validator
	metrics     *metrics.DeployMetrics

	reconciling int32
}

func NewDeploymentManager(conf *config.ServerConfig, deployments storage.DeploymentStoreInterface,
	incoming storage.IncomingDataStoreInterface, runtimes RuntimeGetter, validator Validator,
	deployMetrics *metrics.DeployMetrics) *DeploymentManager {
	if deployMetrics == nil {
		deployMetrics = metrics.NewDeployMetrics()
	}
	return &DeploymentManager{
		conf:        conf,
		deployments: deployments,
		incoming:    incoming,
		runtimes:    runtimes,
		validator:   validator,
		metrics:     deployMetrics,
	}
}

// getDeployment maps missing and deleted rows to DeploymentNotFound
func (m *DeploymentManager) getDeployment(id int64) (model.Deployment, error) {
	deployment, err := m.deployments.GetDeployment(id)
	if err != nil {
		if deployerrors.IsRecordNotFound(err) {
			return deployment, deployerrors.DeploymentNotFoundError(id)
		}
		return deployment, err
	}
	return deployment, nil
}

func (m *DeploymentManager) provision(ctx context.Context, rt runtime.RuntimeService, modelURI string) (*runtime.ProvisionResult, error) {
	start := time.Now()
	res, err := rt.Provision(ctx, modelURI)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveProvision(rt.Name(), start)
	return res, nil
}

// release terminates resources that could not be recorded
func (m *DeploymentManager) release(rt runtime.RuntimeService, res *runtime.ProvisionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := rt.Terminate(ctx, res.PID, res.InstanceName); err != nil {
		log.Errorf("release pid %d instance %q failed: %v", res.PID, res.InstanceName, err)
	}
}

// CreateDeployment provisions the model first, a failed provision leaves no record behind
func (m *DeploymentManager) CreateDeployment(ctx context.Context, request *CreateDeploymentRequest) (id int64, err error) {
	defer func() { m.metrics.ObserveOperation(OperationCreate, request.DeploymentType, err) }()
	if !model.IsValidDeploymentType(request.DeploymentType) {
		return 0, deployerrors.InvalidDeploymentTypeError(request.DeploymentType)
	}
	rt, err := m.runtimes.GetOrCreateRuntime(request.DeploymentType)
	if err != nil {
		return 0, err
	}
	res, err := m.provision(ctx, rt, request.ModelURI)
	if err != nil {
		log.Errorf("provision model %s on %s failed: %v", request.ModelURI, request.DeploymentType, err)
		return 0, err
	}

	deployment := &model.Deployment{
		ProjectID:      request.ProjectID,
		ModelID:        request.ModelID,
		ModelVersion:   request.ModelVersion,
		ModelURI:       request.ModelURI,
		DeploymentType: request.DeploymentType,
		Host:           res.Host,
		Port:           &res.Port,
		PID:            res.PID,
		InstanceName:   res.InstanceName,
		Status:         model.DeploymentStatusRunning,
	}
	if err = m.deployments.CreateDeployment(deployment); err != nil {
		m.release(rt, res)
		return 0, err
	}
	logger.LoggerForDeployment(deployment.ID).Infof("deployment of model %s created on %s", request.ModelURI, request.DeploymentType)
	return deployment.ID, nil
}

// RunDeployment provisions a stopped deployment again, a running one is left alone
func (m *DeploymentManager) RunDeployment(ctx context.Context, id int64) (err error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return err
	}
	defer func() { m.metrics.ObserveOperation(OperationRun, deployment.DeploymentType, err) }()
	if deployment.IsRunning() {
		return nil
	}
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		return err
	}
	res, err := m.provision(ctx, rt, deployment.ModelURI)
	if err != nil {
		return err
	}

	rows, err := m.deployments.UpdateDeployment(id, model.DeploymentStatusStopped, map[string]interface{}{
		"status":        model.DeploymentStatusRunning,
		"host":          res.Host,
		"port":          res.Port,
		"pid":           res.PID,
		"instance_name": res.InstanceName,
	})
	if err != nil || rows == 0 {
		m.release(rt, res)
		if err != nil {
			return err
		}
		return deployerrors.DeploymentStateConflictError(id, model.DeploymentStatusStopped)
	}
	logger.LoggerForDeployment(id).Infof("deployment is running on port %d", res.Port)
	return nil
}

// StopDeployment terminates the serving resources and clears the address
func (m *DeploymentManager) StopDeployment(ctx context.Context, id int64) (err error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return err
	}
	defer func() { m.metrics.ObserveOperation(OperationStop, deployment.DeploymentType, err) }()
	return m.stop(ctx, deployment)
}

func (m *DeploymentManager) stop(ctx context.Context, deployment model.Deployment) error {
	if !deployment.IsRunning() {
		return nil
	}
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		return err
	}
	if err = rt.Terminate(ctx, deployment.PID, deployment.InstanceName); err != nil {
		return err
	}
	return m.markStopped(deployment.ID)
}

func (m *DeploymentManager) markStopped(id int64) error {
	rows, err := m.deployments.UpdateDeployment(id, model.DeploymentStatusRunning, map[string]interface{}{
		"status": model.DeploymentStatusStopped,
		"host":   nil,
		"port":   nil,
		"pid":    model.NoProcess,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return deployerrors.DeploymentStateConflictError(id, model.DeploymentStatusRunning)
	}
	logger.LoggerForDeployment(id).Info("deployment stopped")
	return nil
}

// DeleteDeployment stops the deployment and hides it, the row stays for audit
func (m *DeploymentManager) DeleteDeployment(ctx context.Context, id int64) (err error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return err
	}
	defer func() { m.metrics.ObserveOperation(OperationDelete, deployment.DeploymentType, err) }()
	if err = m.stop(ctx, deployment); err != nil {
		return err
	}
	rows, err := m.deployments.UpdateDeployment(id, model.DeploymentStatusStopped, map[string]interface{}{
		"status": model.DeploymentStatusDeleted,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return deployerrors.DeploymentStateConflictError(id, model.DeploymentStatusStopped)
	}
	logger.LoggerForDeployment(id).Info("deployment deleted")
	return nil
}

// Predict audits the payload, rejects it on anomalies and otherwise forwards it as records.
// The response of the model server is returned untouched.
func (m *DeploymentManager) Predict(ctx context.Context, id int64, payload []byte) (resp *runtime.PredictResponse, err error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return nil, err
	}
	defer func() { m.metrics.ObserveOperation(OperationPredict, deployment.DeploymentType, err) }()
	host, port, ok := deployment.Address()
	if !deployment.IsRunning() || !ok {
		return nil, deployerrors.DeploymentNotRunningError(id, deployment.Status)
	}
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		return nil, err
	}

	table, parseErr := validation.ParsePayload(payload)
	if parseErr != nil {
		if err = m.audit(deployment, payload, model.ValidityInvalid, nil); err != nil {
			return nil, err
		}
		return nil, deployerrors.BadInputDataSchemaError(parseErr.Error(), map[string]interface{}{})
	}

	validity := model.ValiditySkipped
	var anomalies map[string]interface{}
	if m.conf.Deploy.ValidateOnPredict {
		result, validateErr := m.validator.Validate(ctx, deployment.ModelURI, table)
		if validateErr != nil {
			// the payload is still audited, as unchecked and rejected
			if err = m.audit(deployment, payload, model.ValidityInvalid, nil); err != nil {
				return nil, err
			}
			return nil, deployerrors.BackendFailureError(validateErr, "validate payload of deployment %d", id)
		}
		anomalies = result.Anomalies.Map()
		validity = model.ValidityValid
		if !result.Valid {
			validity = model.ValidityInvalid
		}
	}
	if err = m.audit(deployment, payload, validity, anomalies); err != nil {
		return nil, err
	}
	if validity == model.ValidityInvalid {
		return nil, deployerrors.BadInputDataSchemaError("input data does not match the reference schema", anomalies)
	}

	records, err := table.MarshalRecords()
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "convert payload of deployment %d", id)
	}
	return rt.Predict(ctx, host, port, records)
}

func (m *DeploymentManager) audit(deployment model.Deployment, payload []byte, validity int, anomalies map[string]interface{}) error {
	id := deployment.ID
	if anomalies == nil {
		anomalies = map[string]interface{}{}
	}
	data := &model.IncomingData{
		DeploymentID: id,
		Payload:      string(payload),
		Timestamp:    model.NowMillis(),
		IsValid:      validity,
		Anomalies:    anomalies,
	}
	if err := m.incoming.CreateIncomingData(data); err != nil {
		logger.LoggerForDeployment(id).Errorf("audit incoming data failed: %v", err)
		return err
	}
	m.metrics.ObservePredict(deployment.DeploymentType, model.ValidityLabel(validity))
	return nil
}

// PingDeployment reports reachability, a deployment that is not running is never reachable
func (m *DeploymentManager) PingDeployment(ctx context.Context, id int64) (bool, error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return false, err
	}
	host, port, ok := deployment.Address()
	if !deployment.IsRunning() || !ok {
		return false, nil
	}
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		return false, err
	}
	return rt.Ping(ctx, host, port), nil
}

// MaxPayloadBytes is the largest prediction body the manager accepts
func (m *DeploymentManager) MaxPayloadBytes() int64 {
	if m.conf.Deploy.MaxPayloadBytes <= 0 {
		return config.DefaultMaxPayloadBytes
	}
	return m.conf.Deploy.MaxPayloadBytes
}

func (m *DeploymentManager) GetDeployment(id int64) (model.Deployment, error) {
	return m.getDeployment(id)
}

func (m *DeploymentManager) ListDeployments() (*ListDeploymentResponse, error) {
	deployments, err := m.deployments.ListDeployments()
	if err != nil {
		return nil, err
	}
	return &ListDeploymentResponse{Deployments: deployments}, nil
}

// Schema returns the reference statistics of the deployed model, empty when there are none
func (m *DeploymentManager) Schema(ctx context.Context, id int64) (map[string]interface{}, error) {
	deployment, err := m.getDeployment(id)
	if err != nil {
		return nil, err
	}
	rt, err := m.runtimes.GetOrCreateRuntime(deployment.DeploymentType)
	if err != nil {
		return nil, err
	}
	schema, err := rt.Schema(ctx, deployment.ModelURI)
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "read reference of %s", deployment.ModelURI)
	}
	return schema, nil
}

// ValidationReport lists the audited payloads of a deployment within [from, to]. Deleted
// deployments keep their report.
func (m *DeploymentManager) ValidationReport(id int64, from, to float64) (*ValidationReportResponse, error) {
	rows, err := m.incoming.ListIncomingData(id, from, to)
	if err != nil {
		return nil, err
	}
	response := &ValidationReportResponse{DeploymentID: id, Records: make([]IncomingDataView, 0, len(rows))}
	for _, row := range rows {
		var view IncomingDataView
		if err = copier.Copy(&view, &row); err != nil {
			return nil, err
		}
		view.Anomalies = row.Anomalies
		if view.Anomalies == nil {
			view.Anomalies = map[string]interface{}{}
		}
		view.Validity = model.ValidityLabel(row.IsValid)
		response.Records = append(response.Records, view)
	}
	return response, nil
}
