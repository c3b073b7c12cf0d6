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

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentMarshalJSON(t *testing.T) {
	host, port := "127.0.0.1", 5001
	created := time.Date(2022, 3, 4, 5, 6, 7, 0, time.UTC)
	d := Deployment{
		ID:             12,
		ProjectID:      3,
		ModelID:        "iris",
		ModelVersion:   "1",
		ModelURI:       "/ws/mlruns/0/abc/artifacts/model",
		DeploymentType: DeploymentTypeLocal,
		Host:           &host,
		Port:           &port,
		PID:            4242,
		Status:         DeploymentStatusRunning,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	out, err := json.Marshal(d)
	require.NoError(t, err)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &view))
	assert.Equal(t, "12", view["id"])
	assert.Equal(t, "3", view["project_id"])
	assert.Equal(t, "5001", view["port"])
	assert.Equal(t, "127.0.0.1", view["host"])
	assert.Equal(t, "2022-03-04T05:06:07Z", view["created_at"])
	assert.Equal(t, "local", view["type"])
	assert.NotContains(t, view, "pid")

	d.Host, d.Port = nil, nil
	d.Status = DeploymentStatusStopped
	out, err = json.Marshal(d)
	require.NoError(t, err)
	view = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(out, &view))
	assert.Nil(t, view["port"])
	assert.Nil(t, view["host"])
}

func TestDeploymentAddress(t *testing.T) {
	d := Deployment{}
	_, _, ok := d.Address()
	assert.False(t, ok)

	host, port := "10.0.0.2", 5000
	d.Host, d.Port = &host, &port
	h, p, ok := d.Address()
	assert.True(t, ok)
	assert.Equal(t, host, h)
	assert.Equal(t, port, p)
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	assert.NoError(t, m.Scan(`{"age":{"severity":"ERROR"}}`))
	assert.Contains(t, m, "age")

	assert.NoError(t, m.Scan([]byte("{}")))
	assert.Empty(t, m)

	assert.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))

	v, err := JSONMap(nil).Value()
	assert.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestValidityLabel(t *testing.T) {
	assert.Equal(t, "valid", ValidityLabel(ValidityValid))
	assert.Equal(t, "invalid", ValidityLabel(ValidityInvalid))
	assert.Equal(t, "skipped", ValidityLabel(ValiditySkipped))
}
