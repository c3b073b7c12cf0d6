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
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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
	mockReference = `{"num_examples": 150, "features": [
		{"name": "sepal_length", "type": "FLOAT", "min": 4.3, "max": 7.9},
		{"name": "species", "type": "STRING"}]}`
)

type fakeRuntime struct {
	mu           sync.Mutex
	name         string
	nextPID      int
	provisionErr error
	reachable    map[int]bool
	terminated   []int
	predicted    [][]byte
	// onProvision runs before Provision returns
	onProvision func()
}

func newFakeRuntime(name string) *fakeRuntime {
	return &fakeRuntime{name: name, nextPID: 100, reachable: map[int]bool{}}
}

func (f *fakeRuntime) Name() string { return f.name }
func (f *fakeRuntime) Init() error  { return nil }

func (f *fakeRuntime) Provision(_ context.Context, modelURI string) (*runtime.ProvisionResult, error) {
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	if modelURI == "/models/missing" {
		return nil, deployerrors.ModelNotFoundError(modelURI)
	}
	f.mu.Lock()
	f.nextPID++
	pid := f.nextPID
	f.reachable[5000+pid] = true
	f.mu.Unlock()
	if f.onProvision != nil {
		f.onProvision()
	}
	host := "0.0.0.0"
	return &runtime.ProvisionResult{Host: &host, Port: 5000 + pid, PID: pid}, nil
}

func (f *fakeRuntime) Terminate(_ context.Context, pid int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	delete(f.reachable, 5000+pid)
	return nil
}

func (f *fakeRuntime) Predict(_ context.Context, _ string, _ int, records []byte) (*runtime.PredictResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predicted = append(f.predicted, records)
	return &runtime.PredictResponse{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte("[0]")}, nil
}

func (f *fakeRuntime) Ping(_ context.Context, _ string, port int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable[port]
}

func (f *fakeRuntime) Schema(_ context.Context, modelURI string) (map[string]interface{}, error) {
	return map[string]interface{}{"model_uri": modelURI}, nil
}

type fakeRuntimes map[string]runtime.RuntimeService

func (f fakeRuntimes) GetOrCreateRuntime(deploymentType string) (runtime.RuntimeService, error) {
	rt, ok := f[deploymentType]
	if !ok {
		return nil, deployerrors.InvalidDeploymentTypeError(deploymentType)
	}
	return rt, nil
}

type memReader map[string][]byte

func (r memReader) Read(_ context.Context, uri string) ([]byte, error) {
	data, ok := r[uri]
	if !ok {
		return nil, cloud.ErrObjectNotFound
	}
	return data, nil
}

func newTestManager(t *testing.T) (*DeploymentManager, *fakeRuntime) {
	driver.InitMockDB()
	conf := config.NewDefaultServerConfig()
	conf.Deploy.ValidateOnPredict = true
	conf.Validation.CheckRange = true
	local := newFakeRuntime(model.DeploymentTypeLocal)
	gate := validation.NewGate(memReader{"/models/iris/stats.json": []byte(mockReference)}, &conf.Validation)
	m := NewDeploymentManager(conf, storage.Deployment, storage.IncomingData,
		fakeRuntimes{model.DeploymentTypeLocal: local}, gate, nil)
	return m, local
}

func createRequest(uri string) *CreateDeploymentRequest {
	return &CreateDeploymentRequest{
		ProjectID:      1,
		ModelID:        "iris",
		ModelVersion:   "1",
		ModelURI:       uri,
		DeploymentType: model.DeploymentTypeLocal,
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)
	d, err := m.GetDeployment(id)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStatusRunning, d.Status)
	require.NotNil(t, d.Host)
	require.NotNil(t, d.Port)
	assert.Equal(t, 101, d.PID)

	reachable, err := m.PingDeployment(ctx, id)
	assert.NoError(t, err)
	assert.True(t, reachable)

	assert.NoError(t, m.StopDeployment(ctx, id))
	d, _ = m.GetDeployment(id)
	assert.Equal(t, model.DeploymentStatusStopped, d.Status)
	assert.Nil(t, d.Host)
	assert.Nil(t, d.Port)
	assert.Equal(t, model.NoProcess, d.PID)
	assert.Equal(t, []int{101}, local.terminated)

	// stopped deployments are never reachable and stop is idempotent
	reachable, err = m.PingDeployment(ctx, id)
	assert.NoError(t, err)
	assert.False(t, reachable)
	assert.NoError(t, m.StopDeployment(ctx, id))
	assert.Len(t, local.terminated, 1)

	assert.NoError(t, m.RunDeployment(ctx, id))
	d, _ = m.GetDeployment(id)
	assert.Equal(t, model.DeploymentStatusRunning, d.Status)
	assert.Equal(t, 102, d.PID)
	// running again is a no-op
	assert.NoError(t, m.RunDeployment(ctx, id))
	d, _ = m.GetDeployment(id)
	assert.Equal(t, 102, d.PID)

	assert.NoError(t, m.DeleteDeployment(ctx, id))
	assert.Equal(t, []int{101, 102}, local.terminated)

	list, err := m.ListDeployments()
	assert.NoError(t, err)
	assert.Empty(t, list.Deployments)

	notFound := []error{
		m.RunDeployment(ctx, id),
		m.StopDeployment(ctx, id),
		m.DeleteDeployment(ctx, id),
	}
	_, err = m.GetDeployment(id)
	notFound = append(notFound, err)
	_, err = m.PingDeployment(ctx, id)
	notFound = append(notFound, err)
	_, err = m.Predict(ctx, id, []byte("[]"))
	notFound = append(notFound, err)
	_, err = m.Schema(ctx, id)
	notFound = append(notFound, err)
	for i, err := range notFound {
		assert.True(t, deployerrors.IsCode(err, deployerrors.DeploymentNotFound), "case %d: %v", i, err)
	}
}

func TestDeleteStoppedDeployment(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)
	require.NoError(t, m.StopDeployment(ctx, id))
	assert.NoError(t, m.DeleteDeployment(ctx, id))
	assert.Len(t, local.terminated, 1)

	_, err = m.GetDeployment(id)
	assert.True(t, deployerrors.IsCode(err, deployerrors.DeploymentNotFound))

	// ids are not reused after delete
	next, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	assert.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestCreateDeploymentFailures(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()

	req := createRequest(mockModelURI)
	req.DeploymentType = "k8s"
	_, err := m.CreateDeployment(ctx, req)
	assert.True(t, deployerrors.IsCode(err, deployerrors.InvalidDeploymentType))

	req.DeploymentType = model.DeploymentTypeCloud
	_, err = m.CreateDeployment(ctx, req)
	assert.True(t, deployerrors.IsCode(err, deployerrors.InvalidDeploymentType))

	_, err = m.CreateDeployment(ctx, createRequest("/models/missing"))
	assert.True(t, deployerrors.IsCode(err, deployerrors.ModelNotFound))

	local.provisionErr = deployerrors.BackendFailureError(fmt.Errorf("exec: not found"), "start model server")
	_, err = m.CreateDeployment(ctx, createRequest(mockModelURI))
	assert.True(t, deployerrors.IsCode(err, deployerrors.BackendFailure))

	list, err := m.ListDeployments()
	assert.NoError(t, err)
	assert.Empty(t, list.Deployments)
}

func TestRunDeploymentConflict(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)
	require.NoError(t, m.StopDeployment(ctx, id))

	// another caller wins the race while this run is provisioning
	local.onProvision = func() {
		_, _ = storage.Deployment.UpdateDeployment(id, model.DeploymentStatusStopped,
			map[string]interface{}{"status": model.DeploymentStatusRunning})
	}
	err = m.RunDeployment(ctx, id)
	assert.True(t, deployerrors.IsCode(err, deployerrors.DeploymentStateConflict))
	// the process provisioned by the losing call is released
	assert.Equal(t, []int{101, 102}, local.terminated)
}

func TestPredict(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)

	resp, err := m.Predict(ctx, id, []byte(`{"columns": ["sepal_length", "species"], "data": [[5.1, "setosa"]]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[0]", string(resp.Body))
	require.Len(t, local.predicted, 1)
	assert.JSONEq(t, `[{"sepal_length": 5.1, "species": "setosa"}]`, string(local.predicted[0]))

	_, err = m.Predict(ctx, id, []byte(`[{"species": "setosa"}]`))
	assert.True(t, deployerrors.IsCode(err, deployerrors.BadInputDataSchema))
	anomalies := deployerrors.Detail(err).(map[string]interface{})
	require.Contains(t, anomalies, "sepal_length")
	reasons := anomalies["sepal_length"].(map[string]interface{})["reason"].([]interface{})
	assert.Equal(t, validation.ReasonColumnDropped, reasons[0].(map[string]interface{})["type"])
	assert.Len(t, local.predicted, 1)

	_, err = m.Predict(ctx, id, []byte(`not json`))
	assert.True(t, deployerrors.IsCode(err, deployerrors.BadInputDataSchema))

	report, err := m.ValidationReport(id, 0, model.NowMillis()+1000)
	require.NoError(t, err)
	require.Len(t, report.Records, 3)
	assert.Equal(t, model.ValidityValid, report.Records[0].IsValid)
	assert.Equal(t, "valid", report.Records[0].Validity)
	assert.Empty(t, report.Records[0].Anomalies)
	assert.Equal(t, model.ValidityInvalid, report.Records[1].IsValid)
	assert.Contains(t, report.Records[1].Anomalies, "sepal_length")
	assert.Equal(t, model.ValidityInvalid, report.Records[2].IsValid)
	assert.Equal(t, "not json", report.Records[2].Payload)

	empty, err := m.ValidationReport(id, 0, 1)
	assert.NoError(t, err)
	assert.Empty(t, empty.Records)
}

func TestPredictWithoutValidation(t *testing.T) {
	m, local := newTestManager(t)
	m.conf.Deploy.ValidateOnPredict = false
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)

	_, err = m.Predict(ctx, id, []byte(`[{"species": "setosa"}]`))
	assert.NoError(t, err)
	assert.Len(t, local.predicted, 1)
	report, err := m.ValidationReport(id, 0, model.NowMillis()+1000)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, model.ValiditySkipped, report.Records[0].IsValid)
	assert.Equal(t, "skipped", report.Records[0].Validity)

	require.NoError(t, m.StopDeployment(ctx, id))
	_, err = m.Predict(ctx, id, []byte(`[{"species": "setosa"}]`))
	assert.True(t, deployerrors.IsCode(err, deployerrors.DeploymentNotRunning))
}

func TestPredictPassThroughWithoutReference(t *testing.T) {
	m, local := newTestManager(t)
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest("/models/other/model"))
	require.NoError(t, err)

	_, err = m.Predict(ctx, id, []byte(`[{"anything": 1}]`))
	assert.NoError(t, err)
	assert.Len(t, local.predicted, 1)
}

type failingReader struct{}

func (failingReader) Read(_ context.Context, uri string) ([]byte, error) {
	return nil, fmt.Errorf("read %s: bucket unavailable", uri)
}

func TestPredictAuditsWhenReferenceUnreadable(t *testing.T) {
	m, local := newTestManager(t)
	m.validator = validation.NewGate(failingReader{}, &m.conf.Validation)
	ctx := context.Background()
	id, err := m.CreateDeployment(ctx, createRequest(mockModelURI))
	require.NoError(t, err)

	_, err = m.Predict(ctx, id, []byte(`[{"sepal_length": 5.1, "species": "setosa"}]`))
	assert.True(t, deployerrors.IsCode(err, deployerrors.BackendFailure))
	assert.Empty(t, local.predicted)

	report, err := m.ValidationReport(id, 0, model.NowMillis()+1000)
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	assert.Equal(t, model.ValidityInvalid, report.Records[0].IsValid)
	assert.Empty(t, report.Records[0].Anomalies)
}

func TestSchema(t *testing.T) {
	m, _ := newTestManager(t)
	id, err := m.CreateDeployment(context.Background(), createRequest(mockModelURI))
	require.NoError(t, err)
	schema, err := m.Schema(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, mockModelURI, schema["model_uri"])
}
