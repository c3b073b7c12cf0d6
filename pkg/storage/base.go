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
	"gorm.io/gorm"

	"github.com/mlpanel/deploy/pkg/model"
)

var (
	DB *gorm.DB

	Deployment   DeploymentStoreInterface
	IncomingData IncomingDataStoreInterface
)

func InitStores(db *gorm.DB) {
	// do not use once.Do() because unit test need to init db twice
	DB = db
	Deployment = newDeploymentStore(db)
	IncomingData = newIncomingDataStore(db)
}

// AutoMigrate creates both tables if they do not exist yet
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Deployment{},
		&model.IncomingData{},
	)
}
