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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"

	"github.com/mlpanel/deploy/cmd/server/flag"
	"github.com/mlpanel/deploy/pkg/apiserver/controller/deployment"
	v1 "github.com/mlpanel/deploy/pkg/apiserver/router/v1"
	"github.com/mlpanel/deploy/pkg/common/config"
	"github.com/mlpanel/deploy/pkg/common/logger"
	"github.com/mlpanel/deploy/pkg/deployment/cloud"
	"github.com/mlpanel/deploy/pkg/deployment/runtime"
	"github.com/mlpanel/deploy/pkg/deployment/validation"
	"github.com/mlpanel/deploy/pkg/metrics"
	"github.com/mlpanel/deploy/pkg/storage"
	"github.com/mlpanel/deploy/pkg/storage/driver"
	"github.com/mlpanel/deploy/pkg/version"
)

const shutdownTimeout = 10 * time.Second

var ServerConf *config.ServerConfig

func main() {
	if err := Main(os.Args); err != nil {
		fmt.Println(err)
		gracefullyExit(err)
	}
}

func Main(args []string) error {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "version of mlpanel deploy server",
		Value: false,
	}

	initConfig()

	compoundFlags := [][]cli.Flag{
		flag.ApiServerFlags(&ServerConf.ApiServer),
		flag.StorageFlags(&ServerConf.Storage),
		flag.DeployFlags(&ServerConf.Deploy),
		flag.CloudFlags(&ServerConf.Cloud),
		flag.ValidationFlags(&ServerConf.Validation),
		flag.MonitorFlags(&ServerConf.Monitor),
		logger.LogFlags(&ServerConf.Log),
	}

	app := &cli.App{
		Name:                 "mlpanel-deploy",
		Usage:                "lifecycle manager of model serving deployments",
		Version:              version.InfoStr(),
		Copyright:            "Apache License 2.0",
		HideHelpCommand:      true,
		EnableBashCompletion: true,
		Flags:                flag.ExpandFlags(compoundFlags),
		Action:               act,
	}
	return app.Run(args)
}

func act(c *cli.Context) error {
	manager, reconciler, err := setup()
	if err != nil {
		log.Errorf("setup server failed. error:%s", err.Error())
		return err
	}
	defer reconciler.Stop()
	err = start(manager)
	if err != nil {
		log.Errorf("start server failed. error:%s", err.Error())
	}
	return err
}

func start(manager *deployment.DeploymentManager) error {
	Router := chi.NewRouter()
	v1.RegisterRouters(Router, manager)
	addr := fmt.Sprintf("%s:%d", ServerConf.ApiServer.Host, ServerConf.ApiServer.Port)
	log.Infof("server addr:%s", addr)
	HttpSvr := &http.Server{
		Addr:    addr,
		Handler: Router,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := HttpSvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, syscall.SIGTERM, syscall.SIGINT)
	select {
	case err := <-serveErr:
		return err
	case sig := <-stopSig:
		log.Infof("received signal %s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := HttpSvr.Shutdown(ctx); err != nil {
		log.Infof("Server forced to shutdown:%s", err.Error())
	}
	log.Info("mlpanel deploy server exiting")
	return nil
}

// initConfig layers defaults, yaml and env; flags are applied on top by the cli app
func initConfig() {
	ServerConf = config.NewDefaultServerConfig()
	configPath := os.Getenv("DEPLOY_SERVER_CONFIG")
	if err := config.InitConfigFromYaml(ServerConf, configPath); err != nil {
		log.Warningf("InitConfigFromYaml failed, configPath:[%s] error:[%s], continue with defaults", configPath, err.Error())
	}
	config.InitConfigFromEnv(ServerConf)
}

func setup() (*deployment.DeploymentManager, *cron.Cron, error) {
	if err := ServerConf.Validate(); err != nil {
		return nil, nil, err
	}
	if err := logger.InitStandardFileLogger(&ServerConf.Log); err != nil {
		log.Errorf("InitStandardFileLogger err: %v", err)
		return nil, nil, err
	}
	log.Infof("The final server config is: %s ", config.PrettyFormat(ServerConf))

	if err := driver.InitStorage(&ServerConf.Storage, ServerConf.Log.Level); err != nil {
		log.Errorf("init database err: %v", err)
		return nil, nil, err
	}

	opts, gate, err := newRuntimeOptions(context.Background(), ServerConf)
	if err != nil {
		return nil, nil, err
	}

	metrics.InitMetrics()
	manager := deployment.NewDeploymentManager(ServerConf, storage.Deployment, storage.IncomingData,
		runtime.NewRuntimes(opts), gate, metrics.Deploy)

	reconciler, err := deployment.StartReconciler(manager, &ServerConf.Monitor)
	if err != nil {
		log.Errorf("start reconciler failed, err %v", err)
		return nil, nil, err
	}
	metrics.StartMetricsService(ServerConf.Monitor.MetricsPort)
	return manager, reconciler, nil
}

// newRuntimeOptions builds the object stores and the compute client, cloud collaborators stay nil when disabled
func newRuntimeOptions(ctx context.Context, conf *config.ServerConfig) (runtime.Options, *validation.Gate, error) {
	var gcs, s3 cloud.ObjectStore
	opts := runtime.Options{Conf: conf}
	if conf.Cloud.Enabled {
		gcsStore, err := cloud.NewGCSStore(ctx, conf.Cloud.CredentialsFile)
		if err != nil {
			log.Errorf("create gcs store failed, err %v", err)
			return opts, nil, err
		}
		gce, err := cloud.NewGCECompute(ctx, conf.Cloud.Project, conf.Cloud.Zone, conf.Cloud.CredentialsFile)
		if err != nil {
			log.Errorf("create compute client failed, err %v", err)
			return opts, nil, err
		}
		gcs = gcsStore
		opts.Uploader = gcsStore
		opts.Compute = gce
	}
	if conf.S3.Endpoint != "" || conf.S3.Region != "" {
		s3Store, err := cloud.NewS3Store(&conf.S3)
		if err != nil {
			log.Errorf("create s3 store failed, err %v", err)
			return opts, nil, err
		}
		s3 = s3Store
	}

	artifacts := cloud.NewArtifacts(gcs, s3)
	opts.Probe = artifacts
	gate := validation.NewGate(artifacts, &conf.Validation)
	opts.Schemas = gate
	return opts, gate, nil
}

func gracefullyExit(err error) {
	fmt.Println(err)
	os.Exit(22)
}
