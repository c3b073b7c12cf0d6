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

package config

import (
	"time"

	"github.com/mlpanel/deploy/pkg/common/logger"
)

var (
	serverDefaultConfPath = "./config/server/default/deploy-server.yaml"

	DefaultMaxPayloadBytes int64 = 32 << 20

	// DefaultServingCommand serves an mlflow model, placeholders are filled by the local runtime
	DefaultServingCommand = []string{"mlflow", "models", "serve", "--no-conda",
		"-m", "{model_uri}", "--host", "0.0.0.0", "--port", "{port}", "--workers", "{workers}"}
	DefaultCachePrefix       = "mlpanel/cache/models"
	DefaultReferenceFileName = "stats.json"
	DefaultReconcileSchedule = "@every 1m"
)

type ServerConfig struct {
	Storage    StorageConfig    `yaml:"database"`
	Log        logger.LogConfig `yaml:"log"`
	ApiServer  ApiServerConfig  `yaml:"apiServer"`
	Deploy     DeployConfig     `yaml:"deploy"`
	Cloud      CloudConfig      `yaml:"cloud"`
	S3         S3Config         `yaml:"s3"`
	Validation ValidationConfig `yaml:"validation"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	Host                   string `yaml:"host"`
	Port                   string `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	MaxIdleConns           *int   `yaml:"maxIdleConns,omitempty"`
	MaxOpenConns           *int   `yaml:"maxOpenConns,omitempty"`
	ConnMaxLifetimeInHours *int   `yaml:"connMaxLifetimeInHours,omitempty"`
}

type ApiServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=0,lte=65535"`
}

type DeployConfig struct {
	// Workspace is the root that local model uris are resolved against when cached to the cloud
	Workspace string `yaml:"workspace"`
	// Workers is passed to the model server as its worker count
	Workers int    `yaml:"workers" validate:"gte=1"`
	LogDir  string `yaml:"logDir"`
	// ServingCommand supports {model_uri}, {port} and {workers} placeholders
	ServingCommand        []string `yaml:"servingCommand"`
	ValidateOnPredict     bool     `yaml:"validateOnPredict"`
	HealthTimeoutSeconds  int      `yaml:"healthTimeoutSeconds" validate:"gte=1"`
	PredictTimeoutSeconds int      `yaml:"predictTimeoutSeconds" validate:"gte=1"`
	// MaxPayloadBytes caps the body of a prediction request
	MaxPayloadBytes int64 `yaml:"maxPayloadBytes" validate:"gte=1"`
}

type CloudConfig struct {
	Enabled               bool   `yaml:"enabled"`
	Project               string `yaml:"project" validate:"required_if=Enabled true"`
	Zone                  string `yaml:"zone" validate:"required_if=Enabled true"`
	MachineType           string `yaml:"machineType"`
	Image                 string `yaml:"image"`
	Bucket                string `yaml:"bucket" validate:"required_if=Enabled true"`
	DockerImage           string `yaml:"dockerImage"`
	Firewall              string `yaml:"firewall"`
	Port                  int    `yaml:"port" validate:"gte=0,lte=65535"`
	CredentialsFile       string `yaml:"credentialsFile"`
	CachePrefix           string `yaml:"cachePrefix"`
	IPWaitTimeoutSeconds  int    `yaml:"ipWaitTimeoutSeconds"`
	IPPollIntervalSeconds int    `yaml:"ipPollIntervalSeconds"`
}

// S3Config is used to probe and read models stored under s3:// uris.
// Empty keys fall back to the default aws credential chain.
type S3Config struct {
	Endpoint       string `yaml:"endpoint"`
	Region         string `yaml:"region"`
	AccessKey      string `yaml:"accessKey"`
	SecretKey      string `yaml:"secretKey"`
	ForcePathStyle bool   `yaml:"forcePathStyle"`
	DisableSSL     bool   `yaml:"disableSSL"`
}

type ValidationConfig struct {
	ReferenceFileName  string `yaml:"referenceFileName"`
	CheckRange         bool   `yaml:"checkRange"`
	BulkStatsThreshold int    `yaml:"bulkStatsThreshold" validate:"gte=0"`
	CacheSize          int    `yaml:"cacheSize"`
	CacheExpireSeconds int    `yaml:"cacheExpireSeconds"`
}

type MonitorConfig struct {
	ReconcileOnStart     bool   `yaml:"reconcileOnStart"`
	ReconcileSchedule    string `yaml:"reconcileSchedule"`
	ReconcileConcurrency int    `yaml:"reconcileConcurrency"`
	MetricsPort          int    `yaml:"metricsPort"`
}

// HealthTimeout bounds a single probe of a model server
func (c DeployConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

func (c DeployConfig) PredictTimeout() time.Duration {
	return time.Duration(c.PredictTimeoutSeconds) * time.Second
}

func (c CloudConfig) IPWaitTimeout() time.Duration {
	return time.Duration(c.IPWaitTimeoutSeconds) * time.Second
}

func (c CloudConfig) IPPollInterval() time.Duration {
	return time.Duration(c.IPPollIntervalSeconds) * time.Second
}

// NewDefaultServerConfig returns the values used when neither yaml, env nor flags set a field
func NewDefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Log: logger.LogConfig{
			Dir:             "./log",
			FilePrefix:      "deploy-server",
			Level:           "INFO",
			MaxKeepDays:     7,
			MaxFileNum:      7,
			MaxFileSizeInMB: 100,
		},
		ApiServer: ApiServerConfig{
			Host: "0.0.0.0",
			Port: 9000,
		},
		Deploy: DeployConfig{
			Workspace:             ".",
			Workers:               1,
			LogDir:                "./log/models",
			ServingCommand:        DefaultServingCommand,
			HealthTimeoutSeconds:  6,
			PredictTimeoutSeconds: 60,
			MaxPayloadBytes:       DefaultMaxPayloadBytes,
		},
		Cloud: CloudConfig{
			MachineType:           "n1-standard-1",
			Firewall:              "mlpanel-model-deploy",
			Port:                  5000,
			CachePrefix:           DefaultCachePrefix,
			IPWaitTimeoutSeconds:  30,
			IPPollIntervalSeconds: 1,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Validation: ValidationConfig{
			ReferenceFileName:  DefaultReferenceFileName,
			BulkStatsThreshold: 1000,
			CacheSize:          100,
			CacheExpireSeconds: 300,
		},
		Monitor: MonitorConfig{
			ReconcileOnStart:     true,
			ReconcileSchedule:    DefaultReconcileSchedule,
			ReconcileConcurrency: 10,
			MetricsPort:          8231,
		},
	}
}
