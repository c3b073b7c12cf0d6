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
package model

import (
	"time"
)

const (
	ID           = "id"
	Status       = "status"
	CreatedAt    = "created_at"
	UpdatedAt    = "last_updated_at"
	DeploymentID = "deployment_id"
	Timestamp    = "timestamp"
	TimeFormat   = time.RFC3339
)

// FormatTime renders a stored timestamp the way every api response does
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// NowMillis returns the wall clock as epoch milliseconds with sub-millisecond precision
func NowMillis() float64 {
	return float64(time.Now().UTC().UnixNano()) / float64(time.Millisecond)
}
