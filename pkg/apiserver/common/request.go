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
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/common/logger"
)

func GetRequestContext(r *http.Request) logger.RequestContext {
	requestID := r.Header.Get(HeaderKeyRequestID)
	userName := r.Header.Get(HeaderKeyUserName)
	log.Debugf("GetRequestContext requestID:[%s] userName:[%s]", requestID, userName)
	return logger.RequestContext{
		RequestID: requestID,
		UserName:  userName,
	}
}

func BindJSON(r *http.Request, data interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, data)
}

// ParseID parses a deployment id from a path parameter
func ParseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
