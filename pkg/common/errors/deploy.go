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

package errors

import (
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const (
	DeploymentNotFound      = "DeploymentNotFound"
	InvalidDeploymentType   = "InvalidDeploymentType"
	LocalModelRemoteDeploy  = "LocalModelRemoteDeploy"
	ModelNotFound           = "ModelNotFound"
	BadInputDataSchema      = "BadInputDataSchema"
	DeploymentNotRunning    = "DeploymentNotRunning"
	DeploymentStateConflict = "DeploymentStateConflict"
	BackendFailure          = "BackendFailure"
	AddressNotReady         = "AddressNotReady"
)

type DeployError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Detail is rendered next to the message, e.g. the anomaly report of a rejected payload
	Detail interface{} `json:"detail,omitempty"`
	cause  error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("code %s, reason %s", e.Code, e.Message)
}

func (e *DeployError) Unwrap() error {
	return e.cause
}

func DeploymentNotFoundError(id int64) error {
	return &DeployError{
		Code:    DeploymentNotFound,
		Message: fmt.Sprintf("deployment with ID %d not found", id),
	}
}

func InvalidDeploymentTypeError(deploymentType string) error {
	return &DeployError{
		Code:    InvalidDeploymentType,
		Message: fmt.Sprintf("invalid deployment type: %s", deploymentType),
	}
}

func LocalModelRemoteDeployError(modelURI string) error {
	return &DeployError{
		Code:    LocalModelRemoteDeploy,
		Message: fmt.Sprintf("model %s is not in remote storage and cannot be deployed remotely", modelURI),
	}
}

func ModelNotFoundError(modelURI string) error {
	return &DeployError{
		Code:    ModelNotFound,
		Message: fmt.Sprintf("model %s does not exist or is not an MLflow model", modelURI),
	}
}

func BadInputDataSchemaError(message string, anomalies interface{}) error {
	return &DeployError{
		Code:    BadInputDataSchema,
		Message: message,
		Detail:  anomalies,
	}
}

func DeploymentNotRunningError(id int64, status string) error {
	return &DeployError{
		Code:    DeploymentNotRunning,
		Message: fmt.Sprintf("deployment with ID %d is %s", id, status),
	}
}

func DeploymentStateConflictError(id int64, expected string) error {
	return &DeployError{
		Code:    DeploymentStateConflict,
		Message: fmt.Sprintf("deployment with ID %d left status %s concurrently", id, expected),
	}
}

// BackendFailureError wraps a process or cloud failure with the operation that failed
func BackendFailureError(err error, format string, args ...interface{}) error {
	wrapped := pkgerrors.Wrapf(err, format, args...)
	return &DeployError{
		Code:    BackendFailure,
		Message: wrapped.Error(),
		cause:   wrapped,
	}
}

func AddressNotReadyError(instanceName string, timeout time.Duration) error {
	return &DeployError{
		Code:    AddressNotReady,
		Message: fmt.Sprintf("instance %s got no external address within %s", instanceName, timeout),
	}
}

// Code returns the code of the first DeployError in the chain, or "" for foreign errors
func Code(err error) string {
	var de *DeployError
	if pkgerrors.As(err, &de) {
		return de.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return err != nil && Code(err) == code
}

// Detail returns the structured detail of a DeployError, nil otherwise
func Detail(err error) interface{} {
	var de *DeployError
	if pkgerrors.As(err, &de) {
		return de.Detail
	}
	return nil
}
