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

package runtime

import (
	"context"
	"sync"

	"github.com/mlpanel/deploy/pkg/common/config"
	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
	"github.com/mlpanel/deploy/pkg/model"
)

// RuntimeService serves models on one kind of backend. Implementations never touch the store,
// the caller persists what Provision returns.
type RuntimeService interface {
	Name() string
	// Init checks that the backend can be used
	Init() error

	// Provision starts a model server for modelURI
	Provision(ctx context.Context, modelURI string) (*ProvisionResult, error)
	// Terminate stops the model server, an already stopped server is not an error
	Terminate(ctx context.Context, pid int, instanceName string) error
	// Predict forwards records to the model server and returns its answer untouched
	Predict(ctx context.Context, host string, port int, records []byte) (*PredictResponse, error)
	// Ping reports whether the model server answers at all
	Ping(ctx context.Context, host string, port int) bool
	// Schema returns the reference statistics stored beside the model
	Schema(ctx context.Context, modelURI string) (map[string]interface{}, error)
}

type ProvisionResult struct {
	Host         *string
	Port         int
	PID          int
	InstanceName string
}

type PredictResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// ModelProbe looks up model artifacts by uri
type ModelProbe interface {
	// IsModel tells whether uri holds a packaged model
	IsModel(ctx context.Context, uri string) (bool, error)
	Exists(ctx context.Context, uri string) (bool, error)
}

type SchemaReader interface {
	Schema(ctx context.Context, modelURI string) (map[string]interface{}, error)
}

// Options carries the collaborators shared by all runtimes
type Options struct {
	Conf    *config.ServerConfig
	Probe   ModelProbe
	Schemas SchemaReader
	// Compute and Uploader are nil when cloud deployments are disabled
	Compute  cloud.Compute
	Uploader cloud.Uploader
}

// Runtimes creates one RuntimeService per deployment type on first use
type Runtimes struct {
	opts     Options
	runtimes sync.Map
	mu       sync.Mutex
}

func NewRuntimes(opts Options) *Runtimes {
	return &Runtimes{opts: opts}
}

func (r *Runtimes) GetOrCreateRuntime(deploymentType string) (RuntimeService, error) {
	if runtimeS, ok := r.runtimes.Load(deploymentType); ok {
		return runtimeS.(RuntimeService), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if runtimeS, ok := r.runtimes.Load(deploymentType); ok {
		return runtimeS.(RuntimeService), nil
	}
	runtimeSvc, err := CreateRuntime(deploymentType, r.opts)
	if err != nil {
		return nil, err
	}
	r.runtimes.Store(deploymentType, runtimeSvc)
	return runtimeSvc, nil
}

// CreateRuntime builds and initializes the runtime of deploymentType
func CreateRuntime(deploymentType string, opts Options) (RuntimeService, error) {
	var runtimeSvc RuntimeService
	switch deploymentType {
	case model.DeploymentTypeLocal:
		runtimeSvc = NewLocalRuntime(opts)
	case model.DeploymentTypeCloud:
		runtimeSvc = NewCloudRuntime(opts)
	default:
		return nil, deployerrors.InvalidDeploymentTypeError(deploymentType)
	}
	if err := runtimeSvc.Init(); err != nil {
		return nil, err
	}
	return runtimeSvc, nil
}
