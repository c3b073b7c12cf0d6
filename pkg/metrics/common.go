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

package metrics

import (
	"strings"
)

const (
	MetricOperationTotal        = "deploy_operation_total"
	MetricProvisionDuration     = "deploy_provision_duration_seconds"
	MetricPredictTotal          = "deploy_predict_total"
	MetricReconcileDemotedTotal = "deploy_reconcile_demoted_total"
	MetricReconcileLastRun      = "deploy_reconcile_last_run_timestamp_seconds"
)

func toHelp(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

const (
	OperationLabel = "operation"
	TypeLabel      = "type"
	ResultLabel    = "result"
	ValidityLabel  = "validity"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
