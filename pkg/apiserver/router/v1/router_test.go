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

package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlpanel/deploy/pkg/apiserver/common"
	"github.com/mlpanel/deploy/pkg/apiserver/controller/deployment"
	"github.com/mlpanel/deploy/pkg/apiserver/router/util"
	"github.com/mlpanel/deploy/pkg/common/config"
	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
	"github.com/mlpanel/deploy/pkg/deployment/runtime"
	"github.com/mlpanel/deploy/pkg/deployment/validation"
	"github.com/mlpanel/deploy/pkg/model"
	"github.com/mlpanel/deploy/pkg/storage"
	"github.com/mlpanel/deploy/pkg/storage/driver"
)

const (
	mockModelURI  = "/models/iris/model"
	mockReference = `{"features": [{"name": "sepal_length", "type": "FLOAT"}]}`
)

type mockRuntime struct {
	mu   sync.Mutex
	pid  int
	down map[int]bool
}

func (m *mockRuntime) Name() string { return model.DeploymentTypeLocal }
func (m *mockRuntime) Init() error  { return nil }

func (m *mockRuntime) Provision(_ context.Context, modelURI string) (*runtime.ProvisionResult, error) {
	if !strings.HasPrefix(modelURI, "/models/") {
		return nil, deployerrors.ModelNotFoundError(modelURI)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pid++
	host := "0.0.0.0"
	return &runtime.ProvisionResult{Host: &host, Port: 6000 + m.pid, PID: m.pid}, nil
}

func (m *mockRuntime) Terminate(_ context.Context, _ int, _ string) error { return nil }

// Predict answers like a model server rejecting its input
func (m *mockRuntime) Predict(_ context.Context, _ string, _ int, _ []byte) (*runtime.PredictResponse, error) {
	return &runtime.PredictResponse{
		StatusCode:  http.StatusBadRequest,
		ContentType: "text/plain",
		Body:        []byte("model server says no"),
	}, nil
}

func (m *mockRuntime) Ping(_ context.Context, _ string, port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.down[port]
}

func (m *mockRuntime) Schema(_ context.Context, _ string) (map[string]interface{}, error) {
	return map[string]interface{}{"features": []interface{}{}}, nil
}

type mockRuntimes struct{ rt *mockRuntime }

func (m mockRuntimes) GetOrCreateRuntime(deploymentType string) (runtime.RuntimeService, error) {
	if deploymentType != model.DeploymentTypeLocal {
		return nil, deployerrors.InvalidDeploymentTypeError(deploymentType)
	}
	return m.rt, nil
}

type mockReader map[string][]byte

func (r mockReader) Read(_ context.Context, uri string) ([]byte, error) {
	if data, ok := r[uri]; ok {
		return data, nil
	}
	return nil, cloud.ErrObjectNotFound
}

// NewApiTest func create router of chi for test
func NewApiTest() (*chi.Mux, *mockRuntime) {
	return newApiTestWithConf(nil)
}

func newApiTestWithConf(adjust func(conf *config.ServerConfig)) (*chi.Mux, *mockRuntime) {
	driver.InitMockDB()
	conf := config.NewDefaultServerConfig()
	conf.Deploy.ValidateOnPredict = true
	if adjust != nil {
		adjust(conf)
	}
	rt := &mockRuntime{down: map[int]bool{}}
	gate := validation.NewGate(mockReader{"/models/iris/stats.json": []byte(mockReference)}, &conf.Validation)
	manager := deployment.NewDeploymentManager(conf, storage.Deployment, storage.IncomingData, mockRuntimes{rt: rt}, gate, nil)
	r := chi.NewRouter()
	RegisterRouters(r, manager)
	return r, rt
}

func baseURL() string {
	return util.MLPanelRouterPrefix + util.MLPanelRouterVersionV1
}

// PerformPostRequest func perform post request for test
func PerformPostRequest(handler http.Handler, path string, v interface{}) (*httptest.ResponseRecorder, error) {
	body, _ := json.Marshal(v)
	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder, nil
}

// PerformPostRawRequest func perform post request with a raw body for test
func PerformPostRawRequest(handler http.Handler, path, contentType string, body []byte) (*httptest.ResponseRecorder, error) {
	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set(common.HeaderContentType, contentType)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder, nil
}

// PerformGetRequest func perform get request for test
func PerformGetRequest(handler http.Handler, path string) (*httptest.ResponseRecorder, error) {
	req, _ := http.NewRequest("GET", path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder, nil
}

// PerformPutRequest func perform put request for test
func PerformPutRequest(handler http.Handler, path string, v interface{}) (*httptest.ResponseRecorder, error) {
	body, _ := json.Marshal(v)
	req, _ := http.NewRequest("PUT", path, bytes.NewBuffer(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder, nil
}

// PerformDeleteRequest func perform delete request for test
func PerformDeleteRequest(handler http.Handler, path string) (*httptest.ResponseRecorder, error) {
	req, _ := http.NewRequest("DELETE", path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder, nil
}

func createMockDeployment(t *testing.T, router http.Handler) string {
	rr, _ := PerformPostRequest(router, baseURL()+"/deployments", map[string]string{
		"project_id": "1",
		"model_id":   "iris",
		"version":    "1",
		"model_uri":  mockModelURI,
		"type":       model.DeploymentTypeLocal,
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var resp deployment.CreateDeploymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.DeploymentID
}

func TestDeploymentRouter(t *testing.T) {
	router, _ := NewApiTest()
	id := createMockDeployment(t, router)
	assert.Equal(t, "1", id)
	path := baseURL() + "/deployments/" + id

	rr, _ := PerformGetRequest(router, path)
	assert.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "1", got["id"])
	assert.Equal(t, "6001", got["port"])
	assert.Equal(t, model.DeploymentStatusRunning, got["status"])

	rr, _ = PerformGetRequest(router, path+"/ping")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = PerformPutRequest(router, path+"/stop", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = PerformGetRequest(router, path)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Nil(t, got["port"])
	assert.Nil(t, got["host"])

	rr, _ = PerformGetRequest(router, path+"/ping")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = PerformPutRequest(router, path+"/run", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"deployment_id": "1"}`, rr.Body.String())

	rr, _ = PerformGetRequest(router, baseURL()+"/deployments")
	assert.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Deployments []map[string]interface{} `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list.Deployments, 1)

	rr, _ = PerformGetRequest(router, path+"/schema")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr, _ = PerformDeleteRequest(router, path)
	assert.Equal(t, http.StatusOK, rr.Code)
	for _, p := range []string{path, path + "/ping", path + "/schema"} {
		rr, _ = PerformGetRequest(router, p)
		assert.Equal(t, http.StatusNotFound, rr.Code, p)
	}
	rr, _ = PerformPutRequest(router, path+"/run", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr, _ = PerformDeleteRequest(router, path)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateDeploymentRequests(t *testing.T) {
	router, _ := NewApiTest()
	path := baseURL() + "/deployments"

	form := url.Values{}
	form.Set("project_id", "2")
	form.Set("model_id", "iris")
	form.Set("model_uri", mockModelURI)
	form.Set("type", model.DeploymentTypeLocal)
	rr, _ := PerformPostRawRequest(router, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
	assert.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	tests := []struct {
		name   string
		body   map[string]string
		status int
		code   string
	}{
		{"invalid type", map[string]string{"model_id": "iris", "model_uri": mockModelURI, "type": "k8s"}, http.StatusBadRequest, deployerrors.InvalidDeploymentType},
		{"cloud disabled", map[string]string{"model_id": "iris", "model_uri": mockModelURI, "type": model.DeploymentTypeCloud}, http.StatusBadRequest, deployerrors.InvalidDeploymentType},
		{"missing model", map[string]string{"model_id": "iris", "model_uri": "/tmp/nothing", "type": model.DeploymentTypeLocal}, http.StatusBadRequest, deployerrors.ModelNotFound},
		{"missing uri", map[string]string{"model_id": "iris", "type": model.DeploymentTypeLocal}, http.StatusBadRequest, common.InappropriateJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := PerformPostRequest(router, path, tt.body)
			assert.Equal(t, tt.status, rr.Code)
			var resp common.ErrorResponse
			assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.ErrorCode)
		})
	}

	rr, _ = PerformPostRawRequest(router, path, common.ContentTypeJSON, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = PerformGetRequest(router, path+"/abc")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPredictRouter(t *testing.T) {
	router, _ := NewApiTest()
	id := createMockDeployment(t, router)
	path := baseURL() + "/deployments/" + id + "/predict"

	// the answer of the model server is passed through untouched
	rr, _ := PerformPostRawRequest(router, path, common.ContentTypeJSON, []byte(`[{"sepal_length": 5.1}]`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "model server says no", rr.Body.String())
	assert.Equal(t, "text/plain", rr.Header().Get(common.HeaderContentType))

	rr, _ = PerformPostRawRequest(router, path, common.ContentTypeJSON, []byte(`[{"petal_width": 0.2}]`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var rejected map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rejected))
	assert.Equal(t, deployerrors.BadInputDataSchema, rejected["code"])
	anomalies := rejected["anomalies"].(map[string]interface{})
	assert.Contains(t, anomalies, "sepal_length")
	assert.Contains(t, anomalies, "petal_width")

	rr, _ = PerformGetRequest(router, baseURL()+"/deployments/"+id+"/validation-report?timestamp_from=0")
	assert.Equal(t, http.StatusOK, rr.Code)
	var report deployment.ValidationReportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	require.Len(t, report.Records, 2)
	assert.Equal(t, model.ValidityValid, report.Records[0].IsValid)
	assert.Equal(t, model.ValidityInvalid, report.Records[1].IsValid)

	rr, _ = PerformGetRequest(router, baseURL()+"/deployments/"+id+"/validation-report?timestamp_to=x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr, _ = PerformPostRawRequest(router, baseURL()+"/deployments/42/predict", common.ContentTypeJSON, []byte("[]"))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPredictRouterPayloadLimit(t *testing.T) {
	router, _ := newApiTestWithConf(func(conf *config.ServerConfig) {
		conf.Deploy.MaxPayloadBytes = 64
	})
	id := createMockDeployment(t, router)
	path := baseURL() + "/deployments/" + id + "/predict"

	rr, _ := PerformPostRawRequest(router, path, common.ContentTypeJSON, []byte(`[{"sepal_length": 5.1}]`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "model server says no", rr.Body.String())

	large := []byte(`[{"sepal_length": 5.1, "comment": "` + strings.Repeat("x", 128) + `"}]`)
	rr, _ = PerformPostRawRequest(router, path, common.ContentTypeJSON, large)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	var resp common.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, common.PayloadTooLarge, resp.ErrorCode)

	rr, _ = PerformGetRequest(router, baseURL()+"/deployments/"+id+"/validation-report")
	assert.Equal(t, http.StatusOK, rr.Code)
	var report deployment.ValidationReportResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Len(t, report.Records, 1)
}

func TestReconcileRouter(t *testing.T) {
	router, rt := NewApiTest()
	createMockDeployment(t, router)
	second := createMockDeployment(t, router)
	rt.mu.Lock()
	rt.down[6002] = true
	rt.mu.Unlock()

	rr, _ := PerformPostRequest(router, baseURL()+"/deployments/reconcile", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var resp deployment.ReconcileResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Checked)
	assert.Len(t, resp.Demoted, 1)
	assert.Equal(t, second, strconv.FormatInt(resp.Demoted[0], 10))
}

func TestHealthAndVersion(t *testing.T) {
	router, _ := NewApiTest()
	rr, _ := PerformGetRequest(router, baseURL()+"/healthcheck")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr, _ = PerformGetRequest(router, baseURL()+"/version")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "goVersion")
	rr, _ = PerformGetRequest(router, "/nothing")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
