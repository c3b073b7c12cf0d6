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
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultTimeout = 200 * time.Second

// Client is the general interface which can perform sending request
type Client interface {
	SendRequest(ctx context.Context, req *Request) (*Response, error)
}

type ClientConfiguration struct {
	// Server is the base address, e.g. http://127.0.0.1:9000
	Server  string
	Timeout time.Duration
}

type DeployClient struct {
	server     string
	httpClient *http.Client
}

func NewDeployClient(conf *ClientConfiguration) *DeployClient {
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	server := strings.TrimSuffix(conf.Server, "/")
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return &DeployClient{
		server:     server,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *DeployClient) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	target := c.server + req.URI
	if len(req.Params) > 0 {
		target += "?" + req.Params.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "build request %s", req)
	}
	requestID := req.Headers[HeaderRequestID]
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set(HeaderRequestID, requestID)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	log.Debugf("send http request: %s, request id %s", req, requestID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "send request %s", req)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read response of %s", req)
	}
	return &Response{
		StatusCode:  httpResp.StatusCode,
		ContentType: httpResp.Header.Get(HeaderContentType),
		RequestID:   requestID,
		Body:        data,
	}, nil
}
