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

package errors

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// mysql errr number reference: https://mariadb.com/kb/en/mariadb-error-codes/
	ErrNoDuplicateEntry = 1062
	ErrNoKeyNotFound    = 1032

	ErrorUnknown         = "UnknownError"
	ErrorKeyIsDuplicated = "DBKeyIsDuplicated"
	ErrorRecordNotFound  = "RecordNotFound"
)

type GormErr struct {
	Number  int    `json:"Number"`
	Message string `json:"Message"`
}

// GetErrorCode classifies a storage error, sqlite/postgres not-found surfaces as gorm.ErrRecordNotFound
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
		return ErrorRecordNotFound
	}
	byteErr, _ := json.Marshal(err)
	var gormErr GormErr
	if err := json.Unmarshal(byteErr, &gormErr); err != nil {
		return ErrorUnknown
	}
	switch gormErr.Number {
	case ErrNoDuplicateEntry:
		logrus.Errorf("database key is duplicated. err:%s", gormErr.Message)
		return ErrorKeyIsDuplicated
	case ErrNoKeyNotFound:
		logrus.Errorf("database record not found. err:%s", gormErr.Message)
		return ErrorRecordNotFound
	}
	return ErrorUnknown
}

func IsRecordNotFound(err error) bool {
	return GetErrorCode(err) == ErrorRecordNotFound
}
