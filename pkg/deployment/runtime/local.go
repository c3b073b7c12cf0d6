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
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/common/config"
	deployerrors "github.com/mlpanel/deploy/pkg/common/errors"
	"github.com/mlpanel/deploy/pkg/common/logger"
	"github.com/mlpanel/deploy/pkg/model"
)

const (
	localHost = "0.0.0.0"
	// reapTimeout bounds the wait for a killed child to be collected
	reapTimeout = 5 * time.Second
	waitDelay   = 2 * time.Second
)

type localProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// LocalRuntime runs one model server child process per deployment
type LocalRuntime struct {
	modelServer
	conf  *config.ServerConfig
	probe ModelProbe

	mu        sync.Mutex
	processes map[int]*localProcess
}

func NewLocalRuntime(opts Options) *LocalRuntime {
	return &LocalRuntime{
		modelServer: newModelServer(opts.Conf.Deploy.HealthTimeout(), opts.Conf.Deploy.PredictTimeout(), opts.Schemas),
		conf:        opts.Conf,
		probe:       opts.Probe,
		processes:   make(map[int]*localProcess),
	}
}

func (lr *LocalRuntime) Name() string {
	return model.DeploymentTypeLocal
}

func (lr *LocalRuntime) Init() error {
	if len(lr.conf.Deploy.ServingCommand) == 0 {
		return fmt.Errorf("serving command of local runtime is empty")
	}
	if lr.conf.Deploy.LogDir != "" {
		if err := os.MkdirAll(lr.conf.Deploy.LogDir, 0755); err != nil {
			return fmt.Errorf("create model log dir %s failed: %v", lr.conf.Deploy.LogDir, err)
		}
	}
	return nil
}

// servingArgs fills the placeholders of the serving command
func servingArgs(command []string, modelURI string, port, workers int) []string {
	replacer := strings.NewReplacer(
		"{model_uri}", modelURI,
		"{port}", strconv.Itoa(port),
		"{workers}", strconv.Itoa(workers),
	)
	args := make([]string, 0, len(command))
	for _, c := range command {
		args = append(args, replacer.Replace(c))
	}
	return args
}

func (lr *LocalRuntime) Provision(ctx context.Context, modelURI string) (*ProvisionResult, error) {
	isModel, err := lr.probe.IsModel(ctx, modelURI)
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "probe model %s", modelURI)
	}
	if !isModel {
		return nil, deployerrors.ModelNotFoundError(modelURI)
	}
	port, err := FreePort()
	if err != nil {
		return nil, deployerrors.BackendFailureError(err, "allocate port")
	}

	args := servingArgs(lr.conf.Deploy.ServingCommand, modelURI, port, lr.conf.Deploy.Workers)
	// the server outlives the request, so it is not bound to ctx
	cmd := exec.Command(args[0], args[1:]...)
	logWriter := logger.NewRotateWriter(logger.ModelLogPath(lr.conf.Deploy.LogDir, modelURI), &lr.conf.Log)
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter
	cmd.WaitDelay = waitDelay
	if err = cmd.Start(); err != nil {
		logWriter.Close()
		return nil, deployerrors.BackendFailureError(err, "start model server %s", args[0])
	}

	pid := cmd.Process.Pid
	p := &localProcess{cmd: cmd, done: make(chan struct{})}
	lr.mu.Lock()
	lr.processes[pid] = p
	lr.mu.Unlock()
	go func() {
		waitErr := cmd.Wait()
		logWriter.Close()
		lr.mu.Lock()
		delete(lr.processes, pid)
		lr.mu.Unlock()
		close(p.done)
		log.Infof("model server pid %d of %s exited: %v", pid, modelURI, waitErr)
	}()

	log.Infof("model server of %s started with pid %d on port %d", modelURI, pid, port)
	host := localHost
	return &ProvisionResult{Host: &host, Port: port, PID: pid}, nil
}

// descendants collects the whole process tree under p, deepest last
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, child := range children {
		all = append(all, child)
		all = append(all, descendants(child)...)
	}
	return all
}

// ownsProcess tells whether pid runs the serving command. Children of this runtime always do,
// a pid recorded before a restart must still run the serving executable.
func (lr *LocalRuntime) ownsProcess(p *process.Process) bool {
	lr.mu.Lock()
	_, tracked := lr.processes[int(p.Pid)]
	lr.mu.Unlock()
	if tracked {
		return true
	}
	cmdline, err := p.CmdlineSlice()
	if err != nil || len(cmdline) == 0 {
		return false
	}
	return filepath.Base(cmdline[0]) == filepath.Base(lr.conf.Deploy.ServingCommand[0])
}

// Terminate kills the model server and its workers. Missing processes are ignored,
// so is a pid that was reused by an unrelated process.
func (lr *LocalRuntime) Terminate(ctx context.Context, pid int, _ string) error {
	if pid <= 0 {
		return nil
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return deployerrors.BackendFailureError(err, "check process %d", pid)
	}
	if !exists {
		log.Infof("model server pid %d already gone", pid)
		return nil
	}
	parent, err := process.NewProcess(int32(pid))
	if err != nil {
		// exited between the two checks
		return nil
	}
	if !lr.ownsProcess(parent) {
		log.Warningf("pid %d does not run the model server, left alone", pid)
		return nil
	}
	children := descendants(parent)
	// parent first so it cannot respawn workers
	if err = parent.Kill(); err != nil {
		if exists, _ = process.PidExists(int32(pid)); exists {
			return deployerrors.BackendFailureError(err, "kill process %d", pid)
		}
	}
	for _, child := range children {
		if killErr := child.Kill(); killErr != nil {
			log.Debugf("kill child %d of %d: %v", child.Pid, pid, killErr)
		}
	}

	lr.mu.Lock()
	p, tracked := lr.processes[pid]
	lr.mu.Unlock()
	if tracked {
		select {
		case <-p.done:
		case <-time.After(reapTimeout):
			log.Warningf("model server pid %d not reaped after %s", pid, reapTimeout)
		case <-ctx.Done():
		}
	}
	log.Infof("model server pid %d terminated with %d children", pid, len(children))
	return nil
}
