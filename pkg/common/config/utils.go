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
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	yaml2 "gopkg.in/yaml.v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func InitConfigFromYaml(conf interface{}, configPath string) error {
	// if not set by user, use default
	if configPath == "" {
		log.Infoln("config yaml path not specified. use default config")
		configPath = serverDefaultConfPath
	}
	// readConfig
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		fmt.Printf("read file yaml[%s] failed! err:[%v]\n", configPath, err)
		return err
	}
	if err = yaml2.Unmarshal(yamlFile, conf); err != nil {
		fmt.Printf("decodes yaml[%s] failed! err:[%v]", configPath, err)
		return err
	}
	return nil
}

type envBinding struct {
	key   string
	apply func(v *viper.Viper, key string, conf *ServerConfig)
}

// the variable names are shared with the deployment manifests of the service
var envBindings = []envBinding{
	{"WORKSPACE", func(v *viper.Viper, k string, c *ServerConfig) { c.Deploy.Workspace = v.GetString(k) }},
	{"DEPLOY_SERVER_WORKERS", func(v *viper.Viper, k string, c *ServerConfig) { c.Deploy.Workers = v.GetInt(k) }},
	{"VALIDATE_ON_PREDICT", func(v *viper.Viper, k string, c *ServerConfig) { c.Deploy.ValidateOnPredict = v.GetBool(k) }},
	{"GCP_PROJECT", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Project = v.GetString(k) }},
	{"GCP_ZONE", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Zone = v.GetString(k) }},
	{"GCP_MACHINE_TYPE", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.MachineType = v.GetString(k) }},
	{"GCP_OS_IMAGE", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Image = v.GetString(k) }},
	{"GCP_BUCKET", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Bucket = v.GetString(k) }},
	{"MODEL_DEPLOY_DOCKER_IMAGE", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.DockerImage = v.GetString(k) }},
	{"MODEL_DEPLOY_FIREWALL_RULE", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Firewall = v.GetString(k) }},
	{"MODEL_DEPLOY_DEFAULT_PORT", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.Port = v.GetInt(k) }},
	{"GOOGLE_APPLICATION_CREDENTIALS", func(v *viper.Viper, k string, c *ServerConfig) { c.Cloud.CredentialsFile = v.GetString(k) }},
	{"MLFLOW_S3_ENDPOINT_URL", func(v *viper.Viper, k string, c *ServerConfig) { c.S3.Endpoint = v.GetString(k) }},
	{"AWS_DEFAULT_REGION", func(v *viper.Viper, k string, c *ServerConfig) { c.S3.Region = v.GetString(k) }},
	{"DB_DRIVER", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.Driver = v.GetString(k) }},
	{"DB_HOST", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.Host = v.GetString(k) }},
	{"DB_PORT", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.Port = v.GetString(k) }},
	{"DB_USER", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.User = v.GetString(k) }},
	{"DB_PASSWORD", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.Password = v.GetString(k) }},
	{"DB_NAME", func(v *viper.Viper, k string, c *ServerConfig) { c.Storage.Database = v.GetString(k) }},
}

// InitConfigFromEnv overlays environment variables (and an optional .env file) onto conf.
// Unset variables leave the yaml values untouched.
func InitConfigFromEnv(conf *ServerConfig, envFiles ...string) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Debugf("no env file loaded: %v", err)
	}
	v := viper.New()
	v.AutomaticEnv()
	for _, b := range envBindings {
		if !v.IsSet(b.key) {
			continue
		}
		b.apply(v, b.key, conf)
		log.Debugf("config overridden by env %s", b.key)
	}
	if conf.Cloud.Project != "" && conf.Cloud.Zone != "" && conf.Cloud.Bucket != "" {
		conf.Cloud.Enabled = true
	}
}

// Validate checks the constraints that the server cannot start without
func (conf *ServerConfig) Validate() error {
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if len(conf.Deploy.ServingCommand) == 0 {
		return fmt.Errorf("invalid server config: deploy.servingCommand is empty")
	}
	return nil
}

func PrettyFormat(data interface{}) []byte {
	p, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		panic(err)
	}
	return p
}

// PathExists indicate path exist or not
// 1. path exist: return true, nil
// 2. path not exist: return false, nil
// 3. unknown error: return false, err
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
