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

package version

import (
	"fmt"
	"runtime"
)

var (
	GitVersion    = "v0.0.0"
	GitCommit     = "unknown"
	BuildDate     = "unknown"
	DeployVersion = "v0.1.0"
)

type BuildInfo struct {
	DeployVersion string `json:"version"`
	GitVersion    string `json:"gitVersion"`
	GitCommit     string `json:"gitCommit"`
	BuildDate     string `json:"buildDate"`
	GoVersion     string `json:"goVersion"`
	Compiler      string `json:"compiler"`
	Platform      string `json:"platform"`
}

func Get() BuildInfo {
	return BuildInfo{
		DeployVersion: DeployVersion,
		GitVersion:    GitVersion,
		GitCommit:     GitCommit,
		BuildDate:     BuildDate,
		GoVersion:     runtime.Version(),
		Compiler:      runtime.Compiler,
		Platform:      fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

func Info() []string {
	info := Get()
	return []string{
		fmt.Sprintf("MLPanel Deploy: %v", info.DeployVersion),
		fmt.Sprintf("GitVersion: %v", info.GitVersion),
		fmt.Sprintf("GitCommit: %v", info.GitCommit),
		fmt.Sprintf("BuildDate: %v", info.BuildDate),
		fmt.Sprintf("GoVersion: %v", info.GoVersion),
		fmt.Sprintf("Compiler: %v", info.Compiler),
		fmt.Sprintf("Platform: %s", info.Platform),
	}
}

func InfoStr() string {
	var str string
	for _, i := range Info() {
		str += fmt.Sprintf("\n%v", i)
	}
	return str
}
