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
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/apiserver/controller/deployment"
	pm "github.com/mlpanel/deploy/pkg/apiserver/middleware"
	"github.com/mlpanel/deploy/pkg/apiserver/router/util"
)

type IRouter interface {
	Name() string
	AddRouter(r chi.Router)
}

func RegisterRouters(r *chi.Mux, manager *deployment.DeploymentManager) {
	r.Use(pm.CheckRequestID)
	r.NotFound(pm.NotFound)
	r.MethodNotAllowed(pm.MethodNotAllowed)
	r.Use(middleware.Recoverer)
	// route group
	pathPrefix := util.MLPanelRouterPrefix + util.MLPanelRouterVersionV1
	r.Route(pathPrefix, func(apiV1Router chi.Router) {
		AddRouter(apiV1Router, &HealthRouter{})
		AddRouter(apiV1Router, &VersionRouter{})
		AddRouter(apiV1Router, NewDeploymentRouter(manager))
	})
}

func AddRouter(r chi.Router, router IRouter) {
	log.Infof("Add router[%s]", router.Name())
	router.AddRouter(r)
}
