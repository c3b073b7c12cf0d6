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

package cloud

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

const uploadConcurrency = 8

var ErrObjectNotFound = pkgerrors.New("object not found")

type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// Read returns ErrObjectNotFound when the object is missing
	Read(ctx context.Context, bucket, key string) ([]byte, error)
}

type Uploader interface {
	// UploadDir copies the tree under localDir to bucket/prefix keeping relative paths
	UploadDir(ctx context.Context, localDir, bucket, prefix string) error
}

type GCSStore struct {
	client *storage.Client
}

func NewGCSStore(ctx context.Context, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, pkgerrors.Wrapf(err, "service account key %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create gcs client")
	}
	return &GCSStore{client: client}, nil
}

func (s *GCSStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if pkgerrors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrapf(err, "stat gs://%s/%s", bucket, key)
	}
	return true, nil
}

func (s *GCSStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if pkgerrors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read gs://%s/%s", bucket, key)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSStore) UploadDir(ctx context.Context, localDir, bucket, prefix string) error {
	var files []string
	err := filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "walk %s", localDir)
	}

	keys, err := objectKeys(localDir, prefix, files)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i := range files {
		file, key := files[i], keys[i]
		g.Go(func() error {
			return s.uploadFile(gctx, file, bucket, key)
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}
	log.Infof("uploaded %d files from %s to gs://%s/%s", len(files), localDir, bucket, prefix)
	return nil
}

// objectKeys maps files under localDir to keys under prefix, all or nothing
func objectKeys(localDir, prefix string, files []string) ([]string, error) {
	keys := make([]string, len(files))
	for i, file := range files {
		rel, err := filepath.Rel(localDir, file)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "relative path of %s", file)
		}
		keys[i] = path.Join(prefix, filepath.ToSlash(rel))
	}
	return keys, nil
}

func (s *GCSStore) uploadFile(ctx context.Context, localPath, bucket, key string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "open %s", localPath)
	}
	defer localFile.Close()

	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	if _, err = io.Copy(writer, localFile); err != nil {
		writer.Close()
		return pkgerrors.Wrapf(err, "copy %s to gs://%s/%s", localPath, bucket, key)
	}
	if err = writer.Close(); err != nil {
		return pkgerrors.Wrapf(err, "close gcs writer for gs://%s/%s", bucket, key)
	}
	log.Debugf("uploaded %s to gs://%s/%s", localPath, bucket, key)
	return nil
}
