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
	"strconv"
	"time"
)

const (
	DeploymentStatusRunning = "running"
	DeploymentStatusStopped = "stopped"
	DeploymentStatusDeleted = "deleted"

	DeploymentTypeLocal = "local"
	DeploymentTypeCloud = "gcp"

	// NoProcess marks a deployment without a live local process
	NoProcess = -1
)

type Deployment struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ProjectID      int64     `gorm:"column:project_id;index" json:"project_id"`
	ModelID        string    `gorm:"column:model_id;type:text" json:"model_id"`
	ModelVersion   string    `gorm:"column:version;type:text" json:"version"`
	ModelURI       string    `gorm:"column:model_uri;type:text" json:"model_uri"`
	DeploymentType string    `gorm:"column:type;type:varchar(16)" json:"type"`
	Host           *string   `gorm:"column:host;type:varchar(255)" json:"host"`
	Port           *int      `gorm:"column:port" json:"port"`
	PID            int       `gorm:"column:pid" json:"-"`
	InstanceName   string    `gorm:"column:instance_name;type:varchar(255)" json:"instance_name"`
	Status         string    `gorm:"column:status;type:varchar(16);index" json:"status"`
	CreatedAt      time.Time `gorm:"column:created_at" json:"-"`
	UpdatedAt      time.Time `gorm:"column:last_updated_at" json:"-"`
}

func (Deployment) TableName() string {
	return "deployment"
}

func (d Deployment) IsRunning() bool {
	return d.Status == DeploymentStatusRunning
}

// Address returns host and port, ok is false unless both are set
func (d Deployment) Address() (string, int, bool) {
	if d.Host == nil || d.Port == nil {
		return "", 0, false
	}
	return *d.Host, *d.Port, true
}

// MarshalJSON renders ids and ports as strings, a cleared port stays null
func (d Deployment) MarshalJSON() ([]byte, error) {
	type Alias Deployment
	var port *string
	if d.Port != nil {
		p := strconv.Itoa(*d.Port)
		port = &p
	}
	return json.Marshal(&struct {
		Alias
		ID            string  `json:"id"`
		ProjectID     string  `json:"project_id"`
		Port          *string `json:"port"`
		CreatedAt     string  `json:"created_at"`
		LastUpdatedAt string  `json:"last_updated_at"`
	}{
		Alias:         Alias(d),
		ID:            strconv.FormatInt(d.ID, 10),
		ProjectID:     strconv.FormatInt(d.ProjectID, 10),
		Port:          port,
		CreatedAt:     FormatTime(d.CreatedAt),
		LastUpdatedAt: FormatTime(d.UpdatedAt),
	})
}

func IsValidDeploymentType(deploymentType string) bool {
	return deploymentType == DeploymentTypeLocal || deploymentType == DeploymentTypeCloud
}
