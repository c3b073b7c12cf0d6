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

package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlpanel/deploy/pkg/common/config"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
)

const (
	modelURI     = "/ws/mlruns/0/run1/artifacts/model"
	referenceURI = "/ws/mlruns/0/run1/artifacts/stats.json"

	irisReference = `{
  "num_examples": 150,
  "features": [
    {"name": "sepal_length", "type": "FLOAT", "min": 4.3, "max": 7.9, "mean": 5.84},
    {"name": "petal_count", "type": "INT", "min": 0, "max": 10},
    {"name": "species", "type": "STRING"}
  ]
}`
)

type fakeReader struct {
	files map[string]string
	reads int
}

func (f *fakeReader) Read(_ context.Context, uri string) ([]byte, error) {
	f.reads++
	data, ok := f.files[uri]
	if !ok {
		return nil, cloud.ErrObjectNotFound
	}
	return []byte(data), nil
}

func newTestGate(files map[string]string, modify func(c *config.ValidationConfig)) (*Gate, *fakeReader) {
	conf := &config.ValidationConfig{
		ReferenceFileName:  config.DefaultReferenceFileName,
		CheckRange:         true,
		BulkStatsThreshold: 1000,
		CacheSize:          10,
		CacheExpireSeconds: 60,
	}
	if modify != nil {
		modify(conf)
	}
	reader := &fakeReader{files: files}
	return NewGate(reader, conf), reader
}

func mustParse(t *testing.T, payload string) *Table {
	table, err := ParsePayload([]byte(payload))
	require.NoError(t, err)
	return table
}

func TestReferenceURI(t *testing.T) {
	gate, _ := newTestGate(nil, nil)
	assert.Equal(t, referenceURI, gate.ReferenceURI(modelURI))
	assert.Equal(t, "gs://bucket/models/stats.json", gate.ReferenceURI("gs://bucket/models/iris"))
}

func TestValidatePassThroughWithoutReference(t *testing.T) {
	gate, _ := newTestGate(map[string]string{}, nil)
	result, err := gate.Validate(context.Background(), modelURI,
		mustParse(t, `[{"anything": "goes", "x": 1}]`))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Anomalies)
}

func TestValidateSchema(t *testing.T) {
	gate, _ := newTestGate(map[string]string{referenceURI: irisReference}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
		valid   bool
		column  string
		reason  string
	}{
		{
			name:    "matching columns",
			payload: `[{"sepal_length": 5.1, "petal_count": 3, "species": "setosa"}]`,
			valid:   true,
		},
		{
			name:    "int accepted for float",
			payload: `[{"sepal_length": 5, "petal_count": 3, "species": "setosa"}]`,
			valid:   true,
		},
		{
			name:    "missing column",
			payload: `[{"sepal_length": 5.1, "species": "setosa"}]`,
			column:  "petal_count",
			reason:  ReasonColumnDropped,
		},
		{
			name:    "new column",
			payload: `[{"sepal_length": 5.1, "petal_count": 3, "species": "setosa", "color": "red"}]`,
			column:  "color",
			reason:  ReasonNewColumn,
		},
		{
			name:    "type mismatch",
			payload: `[{"sepal_length": "long", "petal_count": 3, "species": "setosa"}]`,
			column:  "sepal_length",
			reason:  ReasonUnknownType,
		},
		{
			name:    "below min",
			payload: `[{"sepal_length": 1.0, "petal_count": 3, "species": "setosa"}]`,
			column:  "sepal_length",
			reason:  ReasonUnknownType,
		},
		{
			name:    "above max",
			payload: `{"columns": ["sepal_length", "petal_count", "species"], "data": [[5.0, 11, "setosa"]]}`,
			column:  "petal_count",
			reason:  ReasonUnknownType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := gate.Validate(ctx, modelURI, mustParse(t, tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid)
			if tt.valid {
				assert.Empty(t, result.Anomalies)
				return
			}
			require.Contains(t, result.Anomalies, tt.column)
			anomaly := result.Anomalies[tt.column]
			assert.Equal(t, SeverityError, anomaly.Severity)
			assert.Equal(t, tt.reason, anomaly.Reason[0].Type)
		})
	}
}

func TestValidateRangeDisabled(t *testing.T) {
	gate, _ := newTestGate(map[string]string{referenceURI: irisReference}, func(c *config.ValidationConfig) {
		c.CheckRange = false
	})
	result, err := gate.Validate(context.Background(), modelURI,
		mustParse(t, `[{"sepal_length": 100.0, "petal_count": 3, "species": "setosa"}]`))
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidateBulkStatistics(t *testing.T) {
	gate, _ := newTestGate(map[string]string{referenceURI: irisReference}, func(c *config.ValidationConfig) {
		c.BulkStatsThreshold = 2
	})
	ctx := context.Background()

	// one stray value out of three exceeds the tolerated share
	result, err := gate.Validate(ctx, modelURI, mustParse(t, `[
		{"sepal_length": 5.0, "petal_count": 3, "species": "a"},
		{"sepal_length": 5.5, "petal_count": 4, "species": "b"},
		{"sepal_length": 50.0, "petal_count": 5, "species": "c"}
	]`))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Contains(t, result.Anomalies, "sepal_length")
	assert.Contains(t, result.Anomalies["sepal_length"].Description, "outside [4.3, 7.9]")

	result, err = gate.Validate(ctx, modelURI, mustParse(t, `[
		{"sepal_length": 5.0, "petal_count": 3, "species": "a"},
		{"sepal_length": 5.5, "petal_count": 4, "species": "b"},
		{"sepal_length": 6.0, "petal_count": 5, "species": "c"}
	]`))
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestReferenceIsCached(t *testing.T) {
	gate, reader := newTestGate(map[string]string{}, nil)
	ctx := context.Background()
	table := mustParse(t, `[{"a": 1}]`)

	for i := 0; i < 3; i++ {
		_, err := gate.Validate(ctx, modelURI, table)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, reader.reads)
}

func TestSchema(t *testing.T) {
	yamlReference := "num_examples: 10\nfeatures:\n- name: age\n  type: INT\n  min: 18\n  max: 99\n"
	gate, _ := newTestGate(map[string]string{referenceURI: yamlReference}, nil)
	ctx := context.Background()

	schema, err := gate.Schema(ctx, modelURI)
	require.NoError(t, err)
	assert.Equal(t, float64(10), schema["num_examples"])
	features := schema["features"].([]interface{})
	require.Len(t, features, 1)
	assert.Equal(t, "age", features[0].(map[string]interface{})["name"])

	empty, err := gate.Schema(ctx, "/other/run/artifacts/model")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAnomaliesMap(t *testing.T) {
	anomalies := Anomalies{}
	anomalies.add("age", Reason{Type: ReasonUnknownType, ShortDescription: "a", Description: "first."})
	anomalies.add("age", Reason{Type: ReasonUnknownType, ShortDescription: "b", Description: "second."})

	m := anomalies.Map()
	age := m["age"].(map[string]interface{})
	assert.Equal(t, "Multiple errors", age["short_description"])
	assert.Len(t, age["reason"], 2)
}
