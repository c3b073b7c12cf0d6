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

package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/mlpanel/deploy/pkg/client/core"
)

const (
	Prefix        = "/api/mlpanel/v1"
	deploymentApi = Prefix + "/deployments"

	PandasRecordsContentType = "application/json; format=pandas-records"
)

type CreateDeploymentRequest struct {
	ProjectID      string `json:"project_id"`
	ModelID        string `json:"model_id"`
	ModelVersion   string `json:"version,omitempty"`
	ModelURI       string `json:"model_uri"`
	DeploymentType string `json:"type"`
}

type DeploymentIDResponse struct {
	DeploymentID string `json:"deployment_id"`
}

// Deployment mirrors the record rendered by the server, numbers arrive as strings
type Deployment struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	ModelID        string  `json:"model_id"`
	ModelVersion   string  `json:"version"`
	ModelURI       string  `json:"model_uri"`
	DeploymentType string  `json:"type"`
	Host           *string `json:"host"`
	Port           *string `json:"port"`
	InstanceName   string  `json:"instance_name"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	LastUpdatedAt  string  `json:"last_updated_at"`
}

type ListDeploymentResponse struct {
	Deployments []Deployment `json:"deployments"`
}

type IncomingData struct {
	ID           int64                  `json:"id"`
	DeploymentID int64                  `json:"deployment_id"`
	Payload      string                 `json:"incoming_data"`
	Timestamp    float64                `json:"timestamp"`
	IsValid      int                    `json:"is_valid"`
	Validity     string                 `json:"validity"`
	Anomalies    map[string]interface{} `json:"anomalies"`
}

type ValidationReportResponse struct {
	DeploymentID int64          `json:"deployment_id"`
	Records      []IncomingData `json:"records"`
}

type ReconcileResponse struct {
	Checked int     `json:"checked"`
	Demoted []int64 `json:"demoted"`
	Skipped bool    `json:"skipped,omitempty"`
}

// PredictResponse is the verbatim answer of the model server
type PredictResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type DeploymentInterface interface {
	Create(ctx context.Context, request *CreateDeploymentRequest) (*DeploymentIDResponse, error)
	Get(ctx context.Context, id int64) (*Deployment, error)
	List(ctx context.Context) (*ListDeploymentResponse, error)
	Run(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Predict(ctx context.Context, id int64, records []byte) (*PredictResponse, error)
	Ping(ctx context.Context, id int64) (bool, error)
	Schema(ctx context.Context, id int64) (map[string]interface{}, error)
	ValidationReport(ctx context.Context, id int64, from, to *float64) (*ValidationReportResponse, error)
	Reconcile(ctx context.Context) (*ReconcileResponse, error)
}

type deployment struct {
	client core.Client
}

// NewDeployments returns the deployment api of the server behind c
func NewDeployments(c core.Client) DeploymentInterface {
	return &deployment{client: c}
}

func NewForConfig(conf *core.ClientConfiguration) DeploymentInterface {
	return NewDeployments(core.NewDeployClient(conf))
}

func deploymentURL(id int64, action string) string {
	url := deploymentApi + "/" + strconv.FormatInt(id, 10)
	if action != "" {
		url += "/" + action
	}
	return url
}

func (d *deployment) Create(ctx context.Context, request *CreateDeploymentRequest) (*DeploymentIDResponse, error) {
	result := &DeploymentIDResponse{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentApi).
		WithMethod(http.MethodPost).
		WithBody(request).
		WithResult(result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *deployment) Get(ctx context.Context, id int64) (*Deployment, error) {
	result := &Deployment{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "")).
		WithMethod(http.MethodGet).
		WithResult(result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *deployment) List(ctx context.Context) (*ListDeploymentResponse, error) {
	result := &ListDeploymentResponse{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentApi).
		WithMethod(http.MethodGet).
		WithResult(result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *deployment) Run(ctx context.Context, id int64) error {
	return core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "run")).
		WithMethod(http.MethodPut).
		Do(ctx)
}

func (d *deployment) Stop(ctx context.Context, id int64) error {
	return core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "stop")).
		WithMethod(http.MethodPut).
		Do(ctx)
}

func (d *deployment) Delete(ctx context.Context, id int64) error {
	return core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "")).
		WithMethod(http.MethodDelete).
		Do(ctx)
}

// Predict returns an error only for rejections of the server itself,
// model server answers are returned whatever their status.
func (d *deployment) Predict(ctx context.Context, id int64, records []byte) (*PredictResponse, error) {
	resp, err := core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "predict")).
		WithMethod(http.MethodPost).
		WithRawBody(PandasRecordsContentType, records).
		Send(ctx)
	if err != nil {
		return nil, err
	}
	if resp.IsFail() && resp.IsServiceError() {
		return nil, resp.ServiceError()
	}
	return &PredictResponse{StatusCode: resp.StatusCode, ContentType: resp.ContentType, Body: resp.Body}, nil
}

func (d *deployment) Ping(ctx context.Context, id int64) (bool, error) {
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "ping")).
		WithMethod(http.MethodGet).
		Do(ctx)
	if err == nil {
		return true, nil
	}
	if core.ErrorCode(err) == "DeploymentNotReachable" {
		return false, nil
	}
	return false, err
}

func (d *deployment) Schema(ctx context.Context, id int64) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "schema")).
		WithMethod(http.MethodGet).
		WithResult(&result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ValidationReport lists audited payloads, nil bounds are left open
func (d *deployment) ValidationReport(ctx context.Context, id int64, from, to *float64) (*ValidationReportResponse, error) {
	result := &ValidationReportResponse{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentURL(id, "validation-report")).
		WithMethod(http.MethodGet).
		WithQueryParamFilter("timestamp_from", formatBound(from)).
		WithQueryParamFilter("timestamp_to", formatBound(to)).
		WithResult(result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *deployment) Reconcile(ctx context.Context) (*ReconcileResponse, error) {
	result := &ReconcileResponse{}
	err := core.NewRequestBuilder(d.client).
		WithURL(deploymentApi + "/reconcile").
		WithMethod(http.MethodPost).
		WithResult(result).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
