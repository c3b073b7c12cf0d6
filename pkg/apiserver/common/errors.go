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

package common

import (
	"net/http"

	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
)

const (
	InternalError      = "InternalError"      // 所有未定义的其他错误
	InvalidHTTPRequest = "InvalidHTTPRequest" // HTTP body格式错误
	InvalidURI         = "InvalidURI"         // URI形式不正确，例如id不是整数
	MalformedJSON      = "MalformedJSON"      // JSON格式不合法
	InappropriateJSON  = "InappropriateJSON"  // JSON格式正确，但缺少必需项或者值不合法
	PathNotFound       = "PathNotFound"
	MethodNotAllowed   = "MethodNotAllowed"
	PayloadTooLarge    = "PayloadTooLarge"

	DeploymentNotReachable = "DeploymentNotReachable"
)

var errorHTTPStatus = map[string]int{
	InternalError:      http.StatusInternalServerError,
	InvalidHTTPRequest: http.StatusBadRequest,
	InvalidURI:         http.StatusBadRequest,
	MalformedJSON:      http.StatusBadRequest,
	InappropriateJSON:  http.StatusBadRequest,
	PathNotFound:       http.StatusNotFound,
	MethodNotAllowed:   http.StatusMethodNotAllowed,
	PayloadTooLarge:    http.StatusRequestEntityTooLarge,

	DeploymentNotReachable: http.StatusBadRequest,

	deployerrors.DeploymentNotFound:      http.StatusNotFound,
	deployerrors.InvalidDeploymentType:   http.StatusBadRequest,
	deployerrors.LocalModelRemoteDeploy:  http.StatusBadRequest,
	deployerrors.ModelNotFound:           http.StatusBadRequest,
	deployerrors.BadInputDataSchema:      http.StatusBadRequest,
	deployerrors.DeploymentNotRunning:    http.StatusBadRequest,
	deployerrors.DeploymentStateConflict: http.StatusConflict,
	deployerrors.BackendFailure:          http.StatusInternalServerError,
	deployerrors.AddressNotReady:         http.StatusInternalServerError,
}

var errorMessage = map[string]string{
	InternalError:      "We encountered an internal error. Please try again.",
	InvalidHTTPRequest: "One or more errors in HTTP request body",
	InvalidURI:         "Could not parse the specified URI.",
	MalformedJSON:      "The JSON provided was not well-formatted",
	InappropriateJSON:  "The JSON provided was well-formed and valid, but not appropriate for this operation.",
	PathNotFound:       "The requested path was not found",
	MethodNotAllowed:   "The requested method is not allowed for this path",
	PayloadTooLarge:    "The request body exceeds the payload limit",

	DeploymentNotReachable: "The model server of the deployment is not reachable",
}

type ErrorResponse struct {
	RequestID    string `json:"requestID"`
	ErrorCode    string `json:"code"`
	ErrorMessage string `json:"message"`
}

// AnomalyResponse is rendered when a prediction payload is rejected by validation
type AnomalyResponse struct {
	ErrorResponse
	Anomalies interface{} `json:"anomalies"`
}

func GetMessageByCode(code string) string {
	return errorMessage[code]
}

func GetHttpStatusByCode(code string) int {
	return errorHTTPStatus[code]
}
