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

package flag

import (
	"github.com/urfave/cli/v2"

	"github.com/mlpanel/deploy/pkg/common/config"
)

func ApiServerFlags(apiConf *config.ApiServerConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "host",
			Value:       apiConf.Host,
			Usage:       "api server host",
			Destination: &apiConf.Host,
		},
		&cli.IntFlag{
			Name:        "port",
			Value:       apiConf.Port,
			Usage:       "api server port",
			Destination: &apiConf.Port,
		},
	}
}

func StorageFlags(dbConf *config.StorageConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "db-driver",
			Value:       dbConf.Driver,
			Usage:       "database driver, sqlite/mysql/postgres",
			Destination: &dbConf.Driver,
		},
		&cli.StringFlag{
			Name:        "db-host",
			Value:       dbConf.Host,
			Usage:       "host",
			Destination: &dbConf.Host,
		},
		&cli.StringFlag{
			Name:        "db-port",
			Value:       dbConf.Port,
			Usage:       "port",
			Destination: &dbConf.Port,
		},
		&cli.StringFlag{
			Name:        "db-user",
			Value:       dbConf.User,
			Usage:       "user",
			Destination: &dbConf.User,
		},
		&cli.StringFlag{
			Name:        "db-password",
			Value:       dbConf.Password,
			Usage:       "password",
			Destination: &dbConf.Password,
		},
		&cli.StringFlag{
			Name:        "db-database",
			Value:       dbConf.Database,
			Usage:       "database name, or the file path for sqlite",
			Destination: &dbConf.Database,
		},
	}
}

func DeployFlags(deployConf *config.DeployConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "workspace",
			Value:       deployConf.Workspace,
			Usage:       "root directory of local models",
			Destination: &deployConf.Workspace,
		},
		&cli.IntFlag{
			Name:        "workers",
			Value:       deployConf.Workers,
			Usage:       "worker count of each local model server",
			Destination: &deployConf.Workers,
		},
		&cli.StringFlag{
			Name:        "model-log-dir",
			Value:       deployConf.LogDir,
			Usage:       "directory of model server logs",
			Destination: &deployConf.LogDir,
		},
		&cli.BoolFlag{
			Name:        "validate-on-predict",
			Value:       deployConf.ValidateOnPredict,
			Usage:       "validate prediction payloads against the reference statistics of the model",
			Destination: &deployConf.ValidateOnPredict,
		},
		&cli.IntFlag{
			Name:        "health-timeout-seconds",
			Value:       deployConf.HealthTimeoutSeconds,
			Usage:       "timeout of a single model server ping",
			Destination: &deployConf.HealthTimeoutSeconds,
		},
		&cli.IntFlag{
			Name:        "predict-timeout-seconds",
			Value:       deployConf.PredictTimeoutSeconds,
			Usage:       "timeout of a forwarded prediction",
			Destination: &deployConf.PredictTimeoutSeconds,
		},
		&cli.Int64Flag{
			Name:        "max-payload-bytes",
			Value:       deployConf.MaxPayloadBytes,
			Usage:       "largest accepted prediction request body",
			Destination: &deployConf.MaxPayloadBytes,
		},
	}
}

func CloudFlags(cloudConf *config.CloudConfig) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "cloud-enabled",
			Value:       cloudConf.Enabled,
			Usage:       "allow deployments on compute engine instances",
			Destination: &cloudConf.Enabled,
		},
		&cli.StringFlag{
			Name:        "gcp-project",
			Value:       cloudConf.Project,
			Usage:       "gcp project",
			Destination: &cloudConf.Project,
		},
		&cli.StringFlag{
			Name:        "gcp-zone",
			Value:       cloudConf.Zone,
			Usage:       "gcp zone",
			Destination: &cloudConf.Zone,
		},
		&cli.StringFlag{
			Name:        "gcp-bucket",
			Value:       cloudConf.Bucket,
			Usage:       "bucket caching uploaded models",
			Destination: &cloudConf.Bucket,
		},
		&cli.StringFlag{
			Name:        "gcp-credentials-file",
			Value:       cloudConf.CredentialsFile,
			Usage:       "service account key file",
			Destination: &cloudConf.CredentialsFile,
		},
		&cli.IntFlag{
			Name:        "cloud-model-port",
			Value:       cloudConf.Port,
			Usage:       "port of model servers on instances",
			Destination: &cloudConf.Port,
		},
	}
}

func ValidationFlags(validationConf *config.ValidationConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "reference-file-name",
			Value:       validationConf.ReferenceFileName,
			Usage:       "file name of reference statistics stored beside the model directory",
			Destination: &validationConf.ReferenceFileName,
		},
		&cli.BoolFlag{
			Name:        "check-range",
			Value:       validationConf.CheckRange,
			Usage:       "compare numeric values with the reference range",
			Destination: &validationConf.CheckRange,
		},
		&cli.IntFlag{
			Name:        "bulk-stats-threshold",
			Value:       validationConf.BulkStatsThreshold,
			Usage:       "row count above which batch statistics replace per row range checks",
			Destination: &validationConf.BulkStatsThreshold,
		},
	}
}

func MonitorFlags(monitorConf *config.MonitorConfig) []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "reconcile-on-start",
			Value:       monitorConf.ReconcileOnStart,
			Usage:       "reconcile running deployments at startup",
			Destination: &monitorConf.ReconcileOnStart,
		},
		&cli.StringFlag{
			Name:        "reconcile-schedule",
			Value:       monitorConf.ReconcileSchedule,
			Usage:       "cron schedule of the reconcile pass",
			Destination: &monitorConf.ReconcileSchedule,
		},
		&cli.IntFlag{
			Name:        "reconcile-concurrency",
			Value:       monitorConf.ReconcileConcurrency,
			Usage:       "concurrent pings of a reconcile pass",
			Destination: &monitorConf.ReconcileConcurrency,
		},
		&cli.IntFlag{
			Name:        "metrics-port",
			Value:       monitorConf.MetricsPort,
			Usage:       "port of the prometheus metrics listener",
			Destination: &monitorConf.MetricsPort,
		},
	}
}

func ExpandFlags(compoundFlags [][]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, flag := range compoundFlags {
		flags = append(flags, flag...)
	}
	return flags
}
