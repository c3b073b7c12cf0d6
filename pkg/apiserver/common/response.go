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
	"net/http"

	log "github.com/sirupsen/logrus"

	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/common/logger"
)

func RenderErr(w http.ResponseWriter, requestID string, code string) {
	RenderErrWithMessage(w, requestID, code, "")
}

func RenderErrWithMessage(w http.ResponseWriter, requestID string, code string, message string) {
	if code == "" {
		code = InternalError
	}
	httpCode := GetHttpStatusByCode(code)
	if message == "" {
		message = GetMessageByCode(code)
	}
	errorResponse := ErrorResponse{
		RequestID:    requestID,
		ErrorCode:    code,
		ErrorMessage: message,
	}
	// code without a mapped http status
	if httpCode == 0 {
		httpCode = http.StatusInternalServerError
	}
	Render(w, httpCode, errorResponse)
}

// RenderError renders a manager error by its code, rejected payloads carry their anomaly report
func RenderError(w http.ResponseWriter, ctx *logger.RequestContext, err error) {
	code := deployerrors.Code(err)
	if code == "" {
		code = InternalError
	}
	ctx.UpdateError(code, err.Error())
	if code == deployerrors.BadInputDataSchema {
		anomalies := deployerrors.Detail(err)
		if anomalies == nil {
			anomalies = map[string]interface{}{}
		}
		Render(w, GetHttpStatusByCode(code), AnomalyResponse{
			ErrorResponse: ErrorResponse{
				RequestID:    ctx.RequestID,
				ErrorCode:    code,
				ErrorMessage: err.Error(),
			},
			Anomalies: anomalies,
		})
		return
	}
	RenderErrWithMessage(w, ctx.RequestID, code, err.Error())
}

func RenderStatus(w http.ResponseWriter, httpCode int) {
	Render(w, httpCode, nil)
}

func Render(w http.ResponseWriter, httpCode int, data interface{}) {
	w.WriteHeader(httpCode)
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			log.Errorf("Render response requestID[%s],err[%s]", w.Header().Get(HeaderKeyRequestID), err.Error())
		}
		w.Write(jsonBytes)
	}
}
