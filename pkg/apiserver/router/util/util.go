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

package util

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	MLPanelRouterPrefix    = "/api/mlpanel"
	MLPanelRouterVersionV1 = "/v1"

	ParamKeyDeploymentID = "deploymentID"

	QueryKeyTimestampFrom = "timestamp_from"
	QueryKeyTimestampTo   = "timestamp_to"
)

// GetQueryTimestamp parses an epoch millisecond query parameter, def is used when it is absent
func GetQueryTimestamp(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	ts, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s[%s] is not an epoch millisecond timestamp", key, raw)
	}
	return ts, nil
}
