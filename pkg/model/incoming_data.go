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

const (
	ValidityValid   = 1
	ValidityInvalid = 0
	// ValiditySkipped is recorded when the gate is disabled
	ValiditySkipped = -1
)

// IncomingData is one audited prediction request, rows are never updated
type IncomingData struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DeploymentID int64   `gorm:"column:deployment_id;index" json:"deployment_id"`
	Payload      string  `gorm:"column:incoming_data;type:text" json:"incoming_data"`
	Timestamp    float64 `gorm:"column:timestamp;index" json:"timestamp"`
	IsValid      int     `gorm:"column:is_valid" json:"is_valid"`
	Anomalies    JSONMap `gorm:"column:anomalies;type:text" json:"anomalies"`
}

func (IncomingData) TableName() string {
	return "incoming_data"
}

// ValidityLabel names the tri-state flag for metrics and logs
func ValidityLabel(isValid int) string {
	switch isValid {
	case ValidityValid:
		return "valid"
	case ValidityInvalid:
		return "invalid"
	default:
		return "skipped"
	}
}
