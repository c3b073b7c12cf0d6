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

package logger

import (
	log "github.com/sirupsen/logrus"
)

type RequestContext struct {
	RequestID    string
	UserName     string
	ErrorCode    string
	ErrorMessage string
}

func (ctx *RequestContext) Logging() *log.Entry {
	return log.WithFields(log.Fields{
		"RequestID": ctx.RequestID,
		"UserName":  ctx.UserName,
	})
}

// UpdateError records the code that the router renders for a failed request
func (ctx *RequestContext) UpdateError(code string, message string) {
	ctx.ErrorCode = code
	ctx.ErrorMessage = message
}

func LoggerForDeployment(deploymentID int64) *log.Entry {
	return log.WithFields(log.Fields{
		"DeploymentID": deploymentID,
	})
}

func LoggerForInstance(instanceName string) *log.Entry {
	return log.WithFields(log.Fields{
		"Instance": instanceName,
	})
}

func Logger() *log.Entry {
	return log.WithFields(log.Fields{})
}
