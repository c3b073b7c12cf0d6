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

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rifflock/lfshook"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	hostNameHolder = "{HOSTNAME}"
	modelLogSuffix = ".log"
)

type LogConfig struct {
	Dir             string `yaml:"dir"`
	FilePrefix      string `yaml:"filePrefix"`
	Level           string `yaml:"level"`
	MaxKeepDays     int    `yaml:"maxKeepDays"`
	MaxFileNum      int    `yaml:"maxFileNum"`
	MaxFileSizeInMB int    `yaml:"maxFileSizeInMB"`
	IsCompress      bool   `yaml:"isCompress"`
	Formatter       string `yaml:"formatter"`
}

/*
 * InitStandardFileLogger - initialize standard logger for file record
 * PARAMS:
 *   - logConf: config of log
 * RETURNS:
 * 	nil, if succeed
 *  error, if fail
 */
func InitStandardFileLogger(logConf *LogConfig) error {
	return InitFileLogger(log.StandardLogger(), logConf)
}

/*
 * InitFileLogger - initialize file logger
 * PARAMS:
 *   - logger: *log.Logger
 *   - logConf: config of log
 * RETURNS:
 * 	nil, if succeed
 *  error, if fail
 */
func InitFileLogger(logger *log.Logger, logConf *LogConfig) error {
	hostname, err := os.Hostname()
	if err != nil {
		fmt.Printf("failed to get hostname: %v\n", err)
		return err
	}
	level, err := log.ParseLevel(logConf.Level)
	if err != nil {
		return fmt.Errorf("failed to parse logger level: %v", err)
	}
	logger.SetLevel(level)
	logger.SetReportCaller(true)
	logger.SetFormatter(newFormatter(logConf.Formatter))

	logPath := filepath.Join(logConf.Dir, strings.Replace(logConf.FilePrefix, hostNameHolder, hostname, -1))
	fmt.Printf("logPath:%s\n", logPath)
	writer := NewRotateWriter(logPath, logConf)
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		log.ErrorLevel: writer,
		log.FatalLevel: writer,
		log.PanicLevel: writer,
		log.DebugLevel: writer,
		log.InfoLevel:  writer,
		log.WarnLevel:  writer,
	}, logger.Formatter)
	logger.AddHook(lfHook)
	return nil
}

func newFormatter(name string) log.Formatter {
	switch {
	case strings.EqualFold(name, "json"):
		return &log.JSONFormatter{}
	case strings.EqualFold(name, "text"):
		return &log.TextFormatter{}
	default:
		return &Formatter{TimestampFormat: time.RFC3339Nano}
	}
}

// NewRotateWriter returns a size/age rotated file writer using the retention of logConf.
// It is shared by the service log and the model server logs.
func NewRotateWriter(path string, logConf *LogConfig) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logConf.MaxFileSizeInMB,
		MaxAge:     logConf.MaxKeepDays,
		MaxBackups: logConf.MaxFileNum,
		LocalTime:  true,
		Compress:   logConf.IsCompress,
	}
}

// ModelLogPath is the log file of the model server that serves modelURI
func ModelLogPath(dir, modelURI string) string {
	name := strings.ReplaceAll(strings.Trim(modelURI, "/"), "/", "_")
	return filepath.Join(dir, name+modelLogSuffix)
}
