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

package v1

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/apiserver/common"
	"github.com/mlpanel/deploy/pkg/apiserver/controller/deployment"
	"github.com/mlpanel/deploy/pkg/apiserver/router/util"
	"github.com/mlpanel/deploy/pkg/common/logger"
)

// DeploymentRouter is deployment api router
type DeploymentRouter struct {
	manager *deployment.DeploymentManager
}

func NewDeploymentRouter(manager *deployment.DeploymentManager) *DeploymentRouter {
	return &DeploymentRouter{manager: manager}
}

func (dr *DeploymentRouter) Name() string {
	return "DeploymentRouter"
}

// AddRouter add deployment router to root router
func (dr *DeploymentRouter) AddRouter(r chi.Router) {
	log.Info("add deployment router")
	r.Post("/deployments", dr.createDeployment)
	r.Get("/deployments", dr.listDeployment)
	r.Post("/deployments/reconcile", dr.reconcile)
	r.Get("/deployments/{deploymentID}", dr.getDeployment)
	r.Delete("/deployments/{deploymentID}", dr.deleteDeployment)
	r.Put("/deployments/{deploymentID}/run", dr.runDeployment)
	r.Put("/deployments/{deploymentID}/stop", dr.stopDeployment)
	r.Post("/deployments/{deploymentID}/predict", dr.predict)
	r.Get("/deployments/{deploymentID}/ping", dr.ping)
	r.Get("/deployments/{deploymentID}/schema", dr.getSchema)
	r.Get("/deployments/{deploymentID}/validation-report", dr.getValidationReport)
}

func deploymentID(w http.ResponseWriter, r *http.Request, ctx *logger.RequestContext) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, util.ParamKeyDeploymentID))
	id, err := common.ParseID(raw)
	if err != nil {
		ctx.ErrorCode = common.InvalidURI
		ctx.Logging().Errorf("invalid deployment id %q", raw)
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, fmt.Sprintf("deployment id %q is not an integer", raw))
		return 0, false
	}
	return id, true
}

func idResponse(id int64) deployment.CreateDeploymentResponse {
	return deployment.CreateDeploymentResponse{DeploymentID: strconv.FormatInt(id, 10)}
}

// bindCreateRequest accepts a json body or form fields
func bindCreateRequest(r *http.Request) (*deployment.CreateDeploymentRequest, string, error) {
	request := &deployment.CreateDeploymentRequest{}
	if strings.HasPrefix(r.Header.Get(common.HeaderContentType), common.ContentTypeJSON) {
		if err := common.BindJSON(r, request); err != nil {
			return nil, common.MalformedJSON, err
		}
		return request, "", nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, common.InvalidHTTPRequest, err
	}
	if raw := r.FormValue("project_id"); raw != "" {
		projectID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, common.InappropriateJSON, fmt.Errorf("project_id[%s] is not an integer", raw)
		}
		request.ProjectID = projectID
	}
	request.ModelID = r.FormValue("model_id")
	request.ModelVersion = r.FormValue("version")
	request.ModelURI = r.FormValue("model_uri")
	request.DeploymentType = r.FormValue("type")
	return request, "", nil
}

func (dr *DeploymentRouter) createDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	request, code, err := bindCreateRequest(r)
	if err != nil {
		ctx.ErrorCode = code
		ctx.Logging().Errorf("bind create deployment request failed: %v", err)
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, err.Error())
		return
	}
	validate := validator.New()
	if err = validate.Struct(request); err != nil {
		ctx.ErrorCode = common.InappropriateJSON
		ctx.Logging().Errorf("validate create deployment request failed: %v", err)
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, err.Error())
		return
	}
	ctx.Logging().Debugf("create deployment request: %+v", request)

	id, err := dr.manager.CreateDeployment(r.Context(), request)
	if err != nil {
		ctx.Logging().Errorf("create deployment failed: %v", err)
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusAccepted, idResponse(id))
}

func (dr *DeploymentRouter) listDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	response, err := dr.manager.ListDeployments()
	if err != nil {
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, response)
}

func (dr *DeploymentRouter) getDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	d, err := dr.manager.GetDeployment(id)
	if err != nil {
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, d)
}

func (dr *DeploymentRouter) runDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	if err := dr.manager.RunDeployment(r.Context(), id); err != nil {
		ctx.Logging().Errorf("run deployment %d failed: %v", id, err)
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, idResponse(id))
}

func (dr *DeploymentRouter) stopDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	if err := dr.manager.StopDeployment(r.Context(), id); err != nil {
		ctx.Logging().Errorf("stop deployment %d failed: %v", id, err)
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, idResponse(id))
}

func (dr *DeploymentRouter) deleteDeployment(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	if err := dr.manager.DeleteDeployment(r.Context(), id); err != nil {
		ctx.Logging().Errorf("delete deployment %d failed: %v", id, err)
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, idResponse(id))
}

// predict answers with the status, content type and body of the model server
func (dr *DeploymentRouter) predict(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, dr.manager.MaxPayloadBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		ctx.ErrorCode = common.InvalidHTTPRequest
		if errors.As(err, &tooLarge) {
			ctx.ErrorCode = common.PayloadTooLarge
		}
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, err.Error())
		return
	}
	resp, err := dr.manager.Predict(r.Context(), id, payload)
	if err != nil {
		ctx.Logging().Errorf("predict on deployment %d failed: %v", id, err)
		common.RenderError(w, &ctx, err)
		return
	}
	if resp.ContentType != "" {
		w.Header().Set(common.HeaderContentType, resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (dr *DeploymentRouter) ping(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	reachable, err := dr.manager.PingDeployment(r.Context(), id)
	if err != nil {
		common.RenderError(w, &ctx, err)
		return
	}
	if !reachable {
		common.RenderErr(w, ctx.RequestID, common.DeploymentNotReachable)
		return
	}
	common.Render(w, http.StatusOK, map[string]interface{}{"deployment_id": strconv.FormatInt(id, 10), "reachable": true})
}

func (dr *DeploymentRouter) getSchema(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	schema, err := dr.manager.Schema(r.Context(), id)
	if err != nil {
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, schema)
}

func (dr *DeploymentRouter) getValidationReport(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	id, ok := deploymentID(w, r, &ctx)
	if !ok {
		return
	}
	from, err := util.GetQueryTimestamp(r, util.QueryKeyTimestampFrom, 0)
	if err != nil {
		ctx.ErrorCode = common.InvalidURI
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, err.Error())
		return
	}
	to, err := util.GetQueryTimestamp(r, util.QueryKeyTimestampTo, math.MaxFloat64)
	if err != nil {
		ctx.ErrorCode = common.InvalidURI
		common.RenderErrWithMessage(w, ctx.RequestID, ctx.ErrorCode, err.Error())
		return
	}
	report, err := dr.manager.ValidationReport(id, from, to)
	if err != nil {
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, report)
}

func (dr *DeploymentRouter) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := common.GetRequestContext(r)
	response, err := dr.manager.Reconcile(r.Context())
	if err != nil {
		ctx.Logging().Errorf("reconcile failed: %v", err)
		common.RenderError(w, &ctx, err)
		return
	}
	common.Render(w, http.StatusOK, response)
}
