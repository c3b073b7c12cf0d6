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
package driver

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/mlpanel/deploy/pkg/common/config"
	"github.com/mlpanel/deploy/pkg/storage"
)

const (
	Mysql      = "mysql"
	Sqlite     = "sqlite"
	PostgreSQL = "postgres"
	// default sqlite database when no path is configured
	dsn = "file:mlpanel-deploy.db?cache=shared&mode=rwc"
)

func InitStorage(conf *config.StorageConfig, logLevel string) error {
	driver := strings.ToLower(conf.Driver)
	gormConf := getGormConf(logLevel)

	var db *gorm.DB
	var err error
	switch driver {
	case Mysql:
		db, err = initMysqlDB(conf, gormConf)
	case PostgreSQL:
		db, err = initPostgresDB(conf, gormConf)
	case Sqlite, "":
		// sqlite is used when the config file sets no driver
		db, err = initSQLiteDB(conf, gormConf)
	default:
		return fmt.Errorf("unsupported database driver %s", conf.Driver)
	}
	if err != nil {
		log.Errorf("init %s database failed: %v", driver, err)
		return fmt.Errorf("init %s database DB failed", driver)
	}
	if err = storage.AutoMigrate(db); err != nil {
		log.Errorf("create database tables failed: %v", err)
		return err
	}
	if err = setSqlDBConns(db, conf); err != nil {
		return err
	}

	log.Debugf("InitStorage success.dbConf:%v", conf.Driver)
	storage.InitStores(db)
	return nil
}

func getGormConf(logLevel string) *gorm.Config {
	gormConf := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   "",
			SingularTable: true,
		},
		Logger: logger.Default,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	if level, err := log.ParseLevel(logLevel); err != nil {
		log.Warningf("Parse log level error[%s], using logger.Default as gormLogger.", err.Error())
	} else if level == log.DebugLevel || level == log.TraceLevel {
		gormConf.Logger = logger.Default.LogMode(logger.Info)
	}
	return gormConf
}

func setSqlDBConns(db *gorm.DB, conf *config.StorageConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorf("Get DB.DB error[%s]", err.Error())
		return err
	}

	if conf.MaxIdleConns == nil {
		conf.MaxIdleConns = new(int)
		*conf.MaxIdleConns = 5
	}
	sqlDB.SetMaxIdleConns(*conf.MaxIdleConns)

	if conf.MaxOpenConns == nil {
		conf.MaxOpenConns = new(int)
		*conf.MaxOpenConns = 10
	}
	sqlDB.SetMaxOpenConns(*conf.MaxOpenConns)

	if conf.ConnMaxLifetimeInHours == nil {
		conf.ConnMaxLifetimeInHours = new(int)
		*conf.ConnMaxLifetimeInHours = 1
	}
	sqlDB.SetConnMaxLifetime(time.Hour * time.Duration(*conf.ConnMaxLifetimeInHours))
	return nil
}

// InitMockDB opens a private in-memory sqlite database for tests of other packages
func InitMockDB() {
	// github.com/mattn/go-sqlite3
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		// print sql
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("initMockDB open db error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("initMockDB get sql db error: %v", err)
	}
	// every connection to file::memory: opens a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := storage.AutoMigrate(db); err != nil {
		log.Fatalf("initMockDB createDatabaseTables error[%s]", err.Error())
	}
	storage.InitStores(db)
}

func initSQLiteDB(dbConf *config.StorageConfig, gormConf *gorm.Config) (*gorm.DB, error) {
	path := dsn
	if dbConf.Database != "" {
		path = dbConf.Database
	}
	db, err := gorm.Open(sqlite.Open(path), gormConf)
	if err != nil {
		return nil, err
	}
	log.Debugf("init sqlite DB success")
	return db, nil
}

func initMysqlDB(dbConf *config.StorageConfig, gormConf *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8&parseTime=True&loc=UTC",
		dbConf.User, dbConf.Password, dbConf.Host, dbConf.Port, dbConf.Database)
	db, err := gorm.Open(mysql.Open(dsn), gormConf)
	if err != nil {
		return nil, err
	}
	log.Debugf("init mysql DB success")
	return db, nil
}

func initPostgresDB(dbConf *config.StorageConfig, gormConf *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC connect_timeout=5",
		dbConf.Host, dbConf.Port, dbConf.User, dbConf.Password, dbConf.Database)
	db, err := gorm.Open(postgres.Open(dsn), gormConf)
	if err != nil {
		return nil, err
	}
	log.Debugf("init postgres DB success")
	return db, nil
}
