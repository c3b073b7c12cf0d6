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
	"encoding/json"
	"net/http"
)

type Response struct {
	StatusCode  int
	ContentType string
	RequestID   string
	Body        []byte
}

func (r *Response) IsFail() bool {
	return r.StatusCode >= http.StatusBadRequest
}

func (r *Response) ParseJsonBody(result interface{}) error {
	return json.Unmarshal(r.Body, result)
}

// IsServiceError tells a rejection of the deploy server from a body forwarded from a model server
func (r *Response) IsServiceError() bool {
	probe := &ServiceError{}
	return json.Unmarshal(r.Body, probe) == nil && probe.Code != "" && probe.RequestID != ""
}

// ServiceError decodes the error body of the server, foreign bodies keep the raw text as message
func (r *Response) ServiceError() *ServiceError {
	serviceErr := &ServiceError{StatusCode: r.StatusCode, RequestID: r.RequestID}
	if err := json.Unmarshal(r.Body, serviceErr); err != nil || serviceErr.Code == "" {
		serviceErr.Code = http.StatusText(r.StatusCode)
		serviceErr.Message = string(r.Body)
	}
	if serviceErr.RequestID == "" {
		serviceErr.RequestID = r.RequestID
	}
	return serviceErr
}
