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
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mlpanel/deploy/pkg/model"
)

func initMockDB() {
	// github.com/mattn/go-sqlite3
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		// print sql
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("initMockDB open db error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("initMockDB get sql db error: %v", err)
	}
	// every connection to file::memory: opens a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		log.Fatalf("initMockDB createDatabaseTables error[%s]", err.Error())
	}
	InitStores(db)
}

func mockDeployment(status string) *model.Deployment {
	d := &model.Deployment{
		ProjectID:      1,
		ModelID:        "iris",
		ModelVersion:   "1",
		ModelURI:       "/ws/mlruns/0/abc/artifacts/model",
		DeploymentType: model.DeploymentTypeLocal,
		PID:            model.NoProcess,
		Status:         status,
	}
	if status == model.DeploymentStatusRunning {
		host, port := "0.0.0.0", 5001
		d.Host, d.Port, d.PID = &host, &port, 100
	}
	return d
}

func TestCreateAndGetDeployment(t *testing.T) {
	initMockDB()

	d1 := mockDeployment(model.DeploymentStatusRunning)
	d2 := mockDeployment(model.DeploymentStatusStopped)
	require.NoError(t, Deployment.CreateDeployment(d1))
	require.NoError(t, Deployment.CreateDeployment(d2))
	assert.Equal(t, int64(1), d1.ID)
	assert.Equal(t, int64(2), d2.ID)

	got, err := Deployment.GetDeployment(d1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStatusRunning, got.Status)
	host, port, ok := got.Address()
	assert.True(t, ok)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, 5001, port)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = Deployment.GetDeployment(42)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeletedDeploymentIsInvisible(t *testing.T) {
	initMockDB()

	d := mockDeployment(model.DeploymentStatusStopped)
	require.NoError(t, Deployment.CreateDeployment(d))
	rows, err := Deployment.UpdateDeployment(d.ID, model.DeploymentStatusStopped, map[string]interface{}{
		model.Status: model.DeploymentStatusDeleted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	_, err = Deployment.GetDeployment(d.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	list, err := Deployment.ListDeployments()
	require.NoError(t, err)
	assert.Empty(t, list)

	// ids are not reused after delete
	next := mockDeployment(model.DeploymentStatusRunning)
	require.NoError(t, Deployment.CreateDeployment(next))
	assert.Greater(t, next.ID, d.ID)
}

func TestUpdateDeploymentGuarded(t *testing.T) {
	initMockDB()

	d := mockDeployment(model.DeploymentStatusRunning)
	require.NoError(t, Deployment.CreateDeployment(d))

	rows, err := Deployment.UpdateDeployment(d.ID, model.DeploymentStatusStopped, map[string]interface{}{
		model.Status: model.DeploymentStatusRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	rows, err = Deployment.UpdateDeployment(d.ID, model.DeploymentStatusRunning, map[string]interface{}{
		model.Status: model.DeploymentStatusStopped,
		"host":       nil,
		"port":       nil,
		"pid":        model.NoProcess,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	got, err := Deployment.GetDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStatusStopped, got.Status)
	assert.Nil(t, got.Host)
	assert.Nil(t, got.Port)
	assert.Equal(t, model.NoProcess, got.PID)
}

func TestListDeployments(t *testing.T) {
	initMockDB()

	for _, status := range []string{
		model.DeploymentStatusRunning,
		model.DeploymentStatusStopped,
		model.DeploymentStatusRunning,
		model.DeploymentStatusDeleted,
	} {
		require.NoError(t, Deployment.CreateDeployment(mockDeployment(status)))
	}

	list, err := Deployment.ListDeployments()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(3), list[2].ID)

	running, err := Deployment.ListDeploymentsByStatus(model.DeploymentStatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 2)
}
