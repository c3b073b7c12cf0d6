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
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mlpanel/deploy/pkg/model"
)

const deploymentTable = "deployment"

type DeploymentStore struct {
	db *gorm.DB
}

func newDeploymentStore(db *gorm.DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

func (ds *DeploymentStore) CreateDeployment(deployment *model.Deployment) error {
	log.Debugf("begin create deployment, model uri:%s, type:%s", deployment.ModelURI, deployment.DeploymentType)
	tx := ds.db.Table(deploymentTable).Create(deployment)
	if tx.Error != nil {
		log.Errorf("create deployment failed. model uri:%s, error:%s", deployment.ModelURI, tx.Error.Error())
		return tx.Error
	}
	return nil
}

func (ds *DeploymentStore) GetDeployment(id int64) (model.Deployment, error) {
	log.Debugf("start to get deployment. id: %d", id)

	var deployment model.Deployment
	tx := ds.db.Table(deploymentTable).
		Where("id = ? AND status <> ?", id, model.DeploymentStatusDeleted).
		First(&deployment)
	if tx.Error != nil {
		log.Errorf("get deployment failed. id: %d, error:%s", id, tx.Error.Error())
		return model.Deployment{}, tx.Error
	}
	return deployment, nil
}

func (ds *DeploymentStore) ListDeployments() ([]model.Deployment, error) {
	log.Debugf("list deployments")

	var deployments []model.Deployment
	err := ds.db.Table(deploymentTable).
		Where("status <> ?", model.DeploymentStatusDeleted).
		Order("id").
		Find(&deployments).Error
	if err != nil {
		log.Errorf("list deployments failed. error : %s ", err.Error())
		return nil, err
	}
	return deployments, nil
}

func (ds *DeploymentStore) ListDeploymentsByStatus(status string) ([]model.Deployment, error) {
	log.Debugf("list deployments with status %s", status)

	var deployments []model.Deployment
	err := ds.db.Table(deploymentTable).Where("status = ?", status).Order("id").Find(&deployments).Error
	if err != nil {
		log.Errorf("list deployments with status %s failed. error : %s ", status, err.Error())
		return nil, err
	}
	return deployments, nil
}

func (ds *DeploymentStore) UpdateDeployment(id int64, expectedStatus string, values map[string]interface{}) (int64, error) {
	log.Debugf("start to update deployment. id:%d, expected status:%s, values:%v", id, expectedStatus, values)
	if _, ok := values[model.UpdatedAt]; !ok {
		values[model.UpdatedAt] = time.Now().UTC()
	}
	tx := ds.db.Table(deploymentTable).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(values)
	if tx.Error != nil {
		log.Errorf("update deployment failed. id:%d, error:%s", id, tx.Error.Error())
		return 0, tx.Error
	}
	return tx.RowsAffected, nil
}
