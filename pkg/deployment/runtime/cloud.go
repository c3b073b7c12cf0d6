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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/mlpanel/deploy/pkg/common/config"
	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/common/logger"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
	"github.com/mlpanel/deploy/pkg/model"
)

const (
	instanceNamePrefix    = "deployment-"
	defaultPollInterval   = time.Second
	cleanupTimeout        = 2 * time.Minute
	credentialsOnInstance = "/home/gac.json"
	credentialsInDocker   = "/root/gac.json"
)

// CloudRuntime serves each deployment from a docker container on its own virtual machine
type CloudRuntime struct {
	modelServer
	conf        *config.ServerConfig
	probe       ModelProbe
	compute     cloud.Compute
	uploader    cloud.Uploader
	credentials string
}

func NewCloudRuntime(opts Options) *CloudRuntime {
	return &CloudRuntime{
		modelServer: newModelServer(opts.Conf.Deploy.HealthTimeout(), opts.Conf.Deploy.PredictTimeout(), opts.Schemas),
		conf:        opts.Conf,
		probe:       opts.Probe,
		compute:     opts.Compute,
		uploader:    opts.Uploader,
	}
}

func (cr *CloudRuntime) Name() string {
	return model.DeploymentTypeCloud
}

func (cr *CloudRuntime) Init() error {
	if !cr.conf.Cloud.Enabled || cr.compute == nil {
		return deployerrors.InvalidDeploymentTypeError(model.DeploymentTypeCloud)
	}
	if cr.conf.Cloud.CredentialsFile != "" {
		content, err := os.ReadFile(cr.conf.Cloud.CredentialsFile)
		if err != nil {
			return fmt.Errorf("read service account key %s failed: %v", cr.conf.Cloud.CredentialsFile, err)
		}
		cr.credentials = strings.ReplaceAll(string(content), "\n", "")
	}
	return nil
}

// remoteModelURI returns a uri the instance can pull the model from, uploading a local model
// into the cache of the bucket when it is not there yet
func (cr *CloudRuntime) remoteModelURI(ctx context.Context, modelURI string) (string, error) {
	if cloud.IsRemote(modelURI) {
		return modelURI, nil
	}
	localDir, err := filepath.Abs(cloud.ParseURI(modelURI).Key)
	if err != nil {
		return "", deployerrors.LocalModelRemoteDeployError(modelURI)
	}
	workspace, err := filepath.Abs(cr.conf.Deploy.Workspace)
	if err != nil {
		return "", deployerrors.LocalModelRemoteDeployError(modelURI)
	}
	rel, err := filepath.Rel(workspace, localDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", deployerrors.LocalModelRemoteDeployError(modelURI)
	}
	if cr.uploader == nil {
		return "", deployerrors.LocalModelRemoteDeployError(modelURI)
	}

	prefix := path.Join(cr.conf.Cloud.CachePrefix, filepath.ToSlash(rel))
	cached := cloud.ObjectURI{Scheme: cloud.SchemeGCS, Bucket: cr.conf.Cloud.Bucket, Key: prefix}.String()
	exists, err := cr.probe.Exists(ctx, cloud.JoinURI(cached, cloud.ModelManifest))
	if err != nil {
		return "", deployerrors.BackendFailureError(err, "check cached model %s", cached)
	}
	if exists {
		log.Infof("model %s already cached at %s", modelURI, cached)
		return cached, nil
	}
	if err = cr.uploader.UploadDir(ctx, localDir, cr.conf.Cloud.Bucket, prefix); err != nil {
		return "", deployerrors.BackendFailureError(err, "upload model %s", modelURI)
	}
	log.Infof("model %s uploaded to %s", modelURI, cached)
	return cached, nil
}

// StartupScript runs the model server container when the instance boots
func StartupScript(credentials, dockerImage, modelURI string, port int) string {
	p := strconv.Itoa(port)
	serve := fmt.Sprintf("mlflow models serve --no-conda -m %s -h 0.0.0.0 -p %s", modelURI, p)
	if credentials == "" {
		return fmt.Sprintf("#!/bin/bash\n\ndocker run -p %s:%s %s /bin/bash -c \"%s\"", p, p, dockerImage, serve)
	}
	return fmt.Sprintf("#!/bin/bash\n\necho '%s' >> %s && docker run -v %s:%s -p %s:%s %s /bin/bash -c \"export GOOGLE_APPLICATION_CREDENTIALS=%s && %s\"",
		credentials, credentialsOnInstance, credentialsOnInstance, credentialsInDocker, p, p, dockerImage, credentialsInDocker, serve)
}

func (cr *CloudRuntime) Provision(ctx context.Context, modelURI string) (*ProvisionResult, error) {
	isModel, err := cr.probe.IsModel(ctx, modelURI)
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "probe model %s", modelURI)
	}
	if !isModel {
		return nil, deployerrors.ModelNotFoundError(modelURI)
	}
	servedURI, err := cr.remoteModelURI(ctx, modelURI)
	if err != nil {
		return nil, err
	}

	cloudConf := cr.conf.Cloud
	name := fmt.Sprintf("%s%d", instanceNamePrefix, time.Now().UnixNano())
	logEntry := logger.LoggerForInstance(name)
	spec := cloud.InstanceSpec{
		Name:          name,
		MachineType:   cloudConf.MachineType,
		Image:         cloudConf.Image,
		StartupScript: StartupScript(cr.credentials, cloudConf.DockerImage, servedURI, cloudConf.Port),
		Bucket:        cloudConf.Bucket,
	}
	if err = cr.compute.CreateInstance(ctx, spec); err != nil {
		return nil, deployerrors.BackendFailureError(err, "create instance %s", name)
	}
	logEntry.Infof("instance created for model %s", servedURI)

	if err = cr.ensureFirewall(ctx, cloudConf.Port); err != nil {
		cr.deleteQuietly(name)
		return nil, deployerrors.BackendFailureError(err, "open port %d in firewall %s", cloudConf.Port, cloudConf.Firewall)
	}

	ip, err := cr.waitExternalIP(ctx, name)
	if err != nil {
		cr.deleteQuietly(name)
		return nil, err
	}
	logEntry.Infof("instance reachable at %s:%d", ip, cloudConf.Port)
	return &ProvisionResult{Host: &ip, Port: cloudConf.Port, PID: model.NoProcess, InstanceName: name}, nil
}

// ensureFirewall adds port to the ingress rule, rules are only ever widened
func (cr *CloudRuntime) ensureFirewall(ctx context.Context, port int) error {
	firewall := cr.conf.Cloud.Firewall
	p := strconv.Itoa(port)
	ports, exists, err := cr.compute.FirewallPorts(ctx, firewall)
	if err != nil {
		return err
	}
	if !exists {
		return cr.compute.CreateFirewall(ctx, firewall, []string{p})
	}
	merged := mergePorts(ports, p)
	if len(merged) == len(ports) {
		return nil
	}
	return cr.compute.SetFirewallPorts(ctx, firewall, merged)
}

func mergePorts(ports []string, port string) []string {
	set := make(map[string]struct{}, len(ports)+1)
	merged := make([]string, 0, len(ports)+1)
	for _, p := range append(append([]string{}, ports...), port) {
		if _, ok := set[p]; ok {
			continue
		}
		set[p] = struct{}{}
		merged = append(merged, p)
	}
	sort.Strings(merged)
	return merged
}

func (cr *CloudRuntime) waitExternalIP(ctx context.Context, name string) (string, error) {
	interval := cr.conf.Cloud.IPPollInterval()
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := cr.conf.Cloud.IPWaitTimeout()
	var ip string
	err := wait.PollImmediate(interval, timeout, func() (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		addr, err := cr.compute.ExternalIP(ctx, name)
		if err != nil {
			log.Warningf("get external ip of instance %s failed: %v", name, err)
			return false, nil
		}
		ip = addr
		return addr != "", nil
	})
	if err == wait.ErrWaitTimeout {
		return "", deployerrors.AddressNotReadyError(name, timeout)
	}
	if err != nil {
		return "", deployerrors.BackendFailureError(err, "wait for instance %s", name)
	}
	return ip, nil
}

func (cr *CloudRuntime) deleteQuietly(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := cr.compute.DeleteInstance(ctx, name); err != nil {
		log.Errorf("delete instance %s failed: %v", name, err)
	}
}

// Terminate deletes the instance, the firewall rule is left in place
func (cr *CloudRuntime) Terminate(ctx context.Context, _ int, instanceName string) error {
	if instanceName == "" {
		return nil
	}
	if err := cr.compute.DeleteInstance(ctx, instanceName); err != nil {
		return deployerrors.BackendFailureError(err, "delete instance %s", instanceName)
	}
	logger.LoggerForInstance(instanceName).Info("instance deleted")
	return nil
}
