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

package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
)

const (
	pingPath       = "/ping"
	invocationPath = "/invocations"
	// PandasRecordsContentType is the payload orientation the model server expects
	PandasRecordsContentType = "application/json; format=pandas-records"
)

// modelServer talks to the http endpoints every model server exposes
type modelServer struct {
	client         *http.Client
	healthTimeout  time.Duration
	predictTimeout time.Duration
	schemas        SchemaReader
}

func newModelServer(healthTimeout, predictTimeout time.Duration, schemas SchemaReader) modelServer {
	return modelServer{
		client:         &http.Client{},
		healthTimeout:  healthTimeout,
		predictTimeout: predictTimeout,
		schemas:        schemas,
	}
}

func serverURL(host string, port int, path string) string {
	// a server bound to all interfaces is reached through loopback
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

// Ping probes once without retry, any http answer counts as reachable
func (s modelServer) Ping(ctx context.Context, host string, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, s.healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL(host, port, pingPath), nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Debugf("ping %s:%d failed: %v", host, port, err)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

func (s modelServer) Predict(ctx context.Context, host string, port int, records []byte) (*PredictResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.predictTimeout)
	defer cancel()
	url := serverURL(host, port, invocationPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(records))
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "build predict request")
	}
	req.Header.Set("Content-Type", PandasRecordsContentType)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "post %s", url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "read predict response of %s", url)
	}
	return &PredictResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (s modelServer) Schema(ctx context.Context, modelURI string) (map[string]interface{}, error) {
	if s.schemas == nil {
		return nil, fmt.Errorf("no schema reader configured")
	}
	return s.schemas.Schema(ctx, modelURI)
}
