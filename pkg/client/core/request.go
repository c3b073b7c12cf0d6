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
	"fmt"
	"net/url"
)

const (
	HeaderRequestID   = "x-mlpanel-request-id"
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"
)

type Request struct {
	Method  string
	URI     string
	Params  url.Values
	Headers map[string]string
	Body    []byte
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s?%s", r.Method, r.URI, r.Params.Encode())
}

func NewRequestBodyWithStruct(body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body failed, error: %v, body: %v", err, body)
	}
	return jsonBody, nil
}
