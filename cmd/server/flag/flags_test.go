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

package flag

import (
	goflag "flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"

	"github.com/mlpanel/deploy/pkg/common/config"
)

func TestFlagGroups(t *testing.T) {
	conf := config.NewDefaultServerConfig()
	tests := []struct {
		name  string
		flags []cli.Flag
		want  int
	}{
		{"api server", ApiServerFlags(&conf.ApiServer), 2},
		{"storage", StorageFlags(&conf.Storage), 6},
		{"deploy", DeployFlags(&conf.Deploy), 7},
		{"cloud", CloudFlags(&conf.Cloud), 6},
		{"validation", ValidationFlags(&conf.Validation), 3},
		{"monitor", MonitorFlags(&conf.Monitor), 4},
	}
	var groups [][]cli.Flag
	total := 0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.flags, tt.want)
		})
		groups = append(groups, tt.flags)
		total += tt.want
	}
	assert.Len(t, ExpandFlags(groups), total)
}

func TestFlagsOverrideConfig(t *testing.T) {
	conf := config.NewDefaultServerConfig()
	set := goflag.NewFlagSet("test", goflag.ContinueOnError)
	for _, f := range ExpandFlags([][]cli.Flag{DeployFlags(&conf.Deploy), MonitorFlags(&conf.Monitor)}) {
		assert.NoError(t, f.Apply(set))
	}
	assert.NoError(t, set.Parse([]string{"--workers", "4", "--reconcile-schedule", "@every 30s"}))
	assert.Equal(t, 4, conf.Deploy.Workers)
	assert.Equal(t, "@every 30s", conf.Monitor.ReconcileSchedule)
	// untouched flags keep the loaded value
	assert.Equal(t, 60, conf.Deploy.PredictTimeoutSeconds)
}
