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
package storage

import (
	"github.com/mlpanel/deploy/pkg/model"
)

// DeploymentStoreInterface never returns rows in deleted status, they are kept for audit only
type DeploymentStoreInterface interface {
	CreateDeployment(deployment *model.Deployment) error
	GetDeployment(id int64) (model.Deployment, error)
	ListDeployments() ([]model.Deployment, error)
	ListDeploymentsByStatus(status string) ([]model.Deployment, error)
	// UpdateDeployment applies values only while the row is still in expectedStatus
	// and returns the number of rows changed
	UpdateDeployment(id int64, expectedStatus string, values map[string]interface{}) (int64, error)
}

type IncomingDataStoreInterface interface {
	CreateIncomingData(data *model.IncomingData) error
	ListIncomingData(deploymentID int64, timestampFrom, timestampTo float64) ([]model.IncomingData, error)
}
