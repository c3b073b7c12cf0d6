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

package core

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

type ServiceError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestID"`
	// Anomalies is set when a prediction payload was rejected
	Anomalies  map[string]interface{} `json:"anomalies,omitempty"`
	StatusCode int                    `json:"-"`
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("[Code: %s; Message: %s; RequestID: %s]", e.Code, e.Message, e.RequestID)
}

// ErrorCode returns the server error code carried by err, or ""
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if pkgerrors.As(err, &serviceErr) {
		return serviceErr.Code
	}
	return ""
}
