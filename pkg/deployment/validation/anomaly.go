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
	"encoding/json"
	"fmt"
)

const (
	ReasonColumnDropped = "FEATURE_TYPE_LOW_FRACTION_PRESENT"
	ReasonNewColumn     = "SCHEMA_NEW_COLUMN"
	ReasonUnknownType   = "UNKNOWN_TYPE"

	SeverityError = "ERROR"
)

type Reason struct {
	Type             string `json:"type"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description"`
}

type Anomaly struct {
	Severity         string   `json:"severity"`
	ShortDescription string   `json:"short_description"`
	Description      string   `json:"description"`
	Reason           []Reason `json:"reason"`
}

// Anomalies is keyed by column name
type Anomalies map[string]*Anomaly

// add merges reason into the anomaly of column, the first reason names the anomaly
func (a Anomalies) add(column string, reason Reason) {
	anomaly, ok := a[column]
	if !ok {
		a[column] = &Anomaly{
			Severity:         SeverityError,
			ShortDescription: reason.ShortDescription,
			Description:      reason.Description,
			Reason:           []Reason{reason},
		}
		return
	}
	anomaly.Reason = append(anomaly.Reason, reason)
	anomaly.ShortDescription = "Multiple errors"
	anomaly.Description = fmt.Sprintf("%s %s", anomaly.Description, reason.Description)
}

// Map renders the report as plain json values for storage and responses
func (a Anomalies) Map() map[string]interface{} {
	out := map[string]interface{}{}
	data, err := json.Marshal(a)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}
