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
	"encoding/json"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/common/config"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
)

// bulkOutOfRangeTolerance is the share of out-of-range values a large batch may carry
const bulkOutOfRangeTolerance = 0.01

type Result struct {
	Valid     bool
	Anomalies Anomalies
}

// Gate compares prediction payloads with the reference statistics stored beside a model
type Gate struct {
	conf   *config.ValidationConfig
	loader *referenceLoader
}

func NewGate(reader ArtifactReader, conf *config.ValidationConfig) *Gate {
	return &Gate{
		conf:   conf,
		loader: newReferenceLoader(reader, conf.CacheSize, time.Duration(conf.CacheExpireSeconds)*time.Second),
	}
}

// ReferenceURI is the reference statistics file in the directory that contains the model
func (g *Gate) ReferenceURI(modelURI string) string {
	return cloud.JoinURI(cloud.ParentURI(modelURI), g.conf.ReferenceFileName)
}

// Validate checks a parsed payload. Without a reference artifact every payload is valid.
func (g *Gate) Validate(ctx context.Context, modelURI string, table *Table) (*Result, error) {
	ref, err := g.loader.load(ctx, g.ReferenceURI(modelURI))
	if err != nil {
		return nil, err
	}
	anomalies := Anomalies{}
	if ref == nil {
		return &Result{Valid: true, Anomalies: anomalies}, nil
	}

	compareSchema(ref, table, anomalies)
	if g.conf.CheckRange {
		if g.conf.BulkStatsThreshold > 0 && len(table.Records) > g.conf.BulkStatsThreshold {
			compareBulkStatistics(ref, table, anomalies)
		} else {
			compareRanges(ref, table, anomalies)
		}
	}
	if len(anomalies) > 0 {
		log.Debugf("payload for %s has anomalies in %d columns", modelURI, len(anomalies))
	}
	return &Result{Valid: len(anomalies) == 0, Anomalies: anomalies}, nil
}

// Schema renders the reference statistics of a model, an empty map when there are none
func (g *Gate) Schema(ctx context.Context, modelURI string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	ref, err := g.loader.load(ctx, g.ReferenceURI(modelURI))
	if err != nil || ref == nil {
		return out, err
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}

func compareSchema(ref *Reference, table *Table, anomalies Anomalies) {
	present := make(map[string]bool, len(table.Columns))
	for _, col := range table.Columns {
		present[col] = true
	}
	for _, f := range ref.Features {
		if !present[f.Name] {
			anomalies.add(f.Name, Reason{
				Type:             ReasonColumnDropped,
				ShortDescription: "Column dropped",
				Description:      "Column is completely missing (0% of examples have it).",
			})
		}
	}
	for _, col := range table.Columns {
		f, ok := ref.feature(col)
		if !ok {
			anomalies.add(col, Reason{
				Type:             ReasonNewColumn,
				ShortDescription: "New column",
				Description:      "New column (column in data but not in schema)",
			})
			continue
		}
		observed := table.Types[col]
		if observed == "" || typeCompatible(f.Type, observed) {
			continue
		}
		anomalies.add(col, Reason{
			Type:             ReasonUnknownType,
			ShortDescription: "Unexpected data type",
			Description:      fmt.Sprintf("Expected data of type: %s but got %s", f.Type, observed),
		})
	}
}

// INT values are accepted where the reference expects FLOAT
func typeCompatible(expected, observed string) bool {
	return expected == observed || (expected == TypeFloat && observed == TypeInt)
}

func compareRanges(ref *Reference, table *Table, anomalies Anomalies) {
	for _, col := range table.Columns {
		f, ok := ref.feature(col)
		if !ok || !isNumeric(f.Type) || !isNumeric(table.Types[col]) {
			continue
		}
		values := table.numericColumn(col)
		if len(values) == 0 {
			continue
		}
		low, high := values[0], values[0]
		for _, v := range values[1:] {
			low = math.Min(low, v)
			high = math.Max(high, v)
		}
		if f.Min != nil && low < *f.Min {
			anomalies.add(col, Reason{
				Type:             ReasonUnknownType,
				ShortDescription: "Out-of-range values",
				Description:      fmt.Sprintf("Unexpectedly low value: %v < %v (min).", low, *f.Min),
			})
		}
		if f.Max != nil && high > *f.Max {
			anomalies.add(col, Reason{
				Type:             ReasonUnknownType,
				ShortDescription: "Out-of-range values",
				Description:      fmt.Sprintf("Unexpectedly high value: %v > %v (max).", high, *f.Max),
			})
		}
	}
}

// compareBulkStatistics summarizes each numeric column of a large batch and compares
// the summary with the reference instead of checking every row
func compareBulkStatistics(ref *Reference, table *Table, anomalies Anomalies) {
	for _, col := range table.Columns {
		f, ok := ref.feature(col)
		if !ok || !isNumeric(f.Type) || !isNumeric(table.Types[col]) || (f.Min == nil && f.Max == nil) {
			continue
		}
		stats := summarize(table.numericColumn(col), f.Min, f.Max)
		if stats.count == 0 {
			continue
		}
		fraction := float64(stats.outOfRange) / float64(stats.count)
		meanOutside := (f.Min != nil && stats.mean < *f.Min) || (f.Max != nil && stats.mean > *f.Max)
		if fraction <= bulkOutOfRangeTolerance && !meanOutside {
			continue
		}
		anomalies.add(col, Reason{
			Type:             ReasonUnknownType,
			ShortDescription: "Out-of-range values",
			Description: fmt.Sprintf("%.2f%% of values are outside [%s, %s], batch mean %v.",
				fraction*100, bound(f.Min, "-inf"), bound(f.Max, "+inf"), stats.mean),
		})
	}
}

type columnSummary struct {
	count      int
	outOfRange int
	mean       float64
}

func summarize(values []float64, min, max *float64) columnSummary {
	s := columnSummary{count: len(values)}
	sum := 0.0
	for _, v := range values {
		sum += v
		if (min != nil && v < *min) || (max != nil && v > *max) {
			s.outOfRange++
		}
	}
	if s.count > 0 {
		s.mean = sum / float64(s.count)
	}
	return s
}

func bound(v *float64, unset string) string {
	if v == nil {
		return unset
	}
	return fmt.Sprintf("%v", *v)
}
