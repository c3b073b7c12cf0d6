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
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mlpanel/deploy/pkg/model"
)

const incomingDataTable = "incoming_data"

type IncomingDataStore struct {
	db *gorm.DB
}

func newIncomingDataStore(db *gorm.DB) *IncomingDataStore {
	return &IncomingDataStore{db: db}
}

func (is *IncomingDataStore) CreateIncomingData(data *model.IncomingData) error {
	if data.Anomalies == nil {
		data.Anomalies = model.JSONMap{}
	}
	tx := is.db.Table(incomingDataTable).Create(data)
	if tx.Error != nil {
		log.Errorf("create incoming data failed. deployment id:%d, error:%s", data.DeploymentID, tx.Error.Error())
		return tx.Error
	}
	return nil
}

// ListIncomingData returns the audit rows of one deployment with timestampFrom <= timestamp <= timestampTo
func (is *IncomingDataStore) ListIncomingData(deploymentID int64, timestampFrom, timestampTo float64) ([]model.IncomingData, error) {
	log.Debugf("list incoming data, deployment id: %d, from: %f, to: %f", deploymentID, timestampFrom, timestampTo)

	var rows []model.IncomingData
	err := is.db.Table(incomingDataTable).
		Where("deployment_id = ? AND timestamp >= ? AND timestamp <= ?", deploymentID, timestampFrom, timestampTo).
		Order("timestamp").Order("id").
		Find(&rows).Error
	if err != nil {
		log.Errorf("list incoming data failed. deployment id: %d, error: %s", deploymentID, err.Error())
		return nil, err
	}
	return rows, nil
}
