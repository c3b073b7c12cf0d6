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
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	schemeLocal = "file"

	// ModelManifest marks a directory as a packaged mlflow model
	ModelManifest = "MLmodel"
)

// ObjectURI is a parsed model or artifact location
type ObjectURI struct {
	Scheme string
	Bucket string
	Key    string
}

func (u ObjectURI) String() string {
	if u.Scheme == schemeLocal {
		return u.Key
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Key)
}

func ParseURI(uri string) ObjectURI {
	for _, scheme := range []string{SchemeGCS, SchemeS3} {
		prefix := scheme + "://"
		if strings.HasPrefix(uri, prefix) {
			rest := strings.TrimPrefix(uri, prefix)
			bucket, key, _ := strings.Cut(rest, "/")
			return ObjectURI{Scheme: scheme, Bucket: bucket, Key: strings.Trim(key, "/")}
		}
	}
	return ObjectURI{Scheme: schemeLocal, Key: strings.TrimPrefix(uri, "file://")}
}

// IsRemote reports whether uri points into an object store rather than the local disk
func IsRemote(uri string) bool {
	return ParseURI(uri).Scheme != schemeLocal
}

// JoinURI appends name to a local path or an object key
func JoinURI(uri, name string) string {
	u := ParseURI(uri)
	if u.Scheme == schemeLocal {
		return filepath.Join(u.Key, name)
	}
	u.Key = path.Join(u.Key, name)
	return u.String()
}

// ParentURI returns the directory that contains uri
func ParentURI(uri string) string {
	u := ParseURI(uri)
	if u.Scheme == schemeLocal {
		return filepath.Dir(strings.TrimSuffix(u.Key, string(filepath.Separator)))
	}
	dir := path.Dir(u.Key)
	if dir == "." {
		dir = ""
	}
	u.Key = dir
	return u.String()
}

// Artifacts reads model artifacts from the local disk, gcs or s3 depending on the uri scheme
type Artifacts struct {
	gcs ObjectStore
	s3  ObjectStore
}

// NewArtifacts accepts nil stores, uris of an unconfigured scheme then fail with an error
func NewArtifacts(gcs, s3 ObjectStore) *Artifacts {
	return &Artifacts{gcs: gcs, s3: s3}
}

func (a *Artifacts) store(scheme string) (ObjectStore, error) {
	var store ObjectStore
	switch scheme {
	case SchemeGCS:
		store = a.gcs
	case SchemeS3:
		store = a.s3
	}
	if store == nil {
		return nil, fmt.Errorf("no object store configured for %s:// uris", scheme)
	}
	return store, nil
}

func (a *Artifacts) Exists(ctx context.Context, uri string) (bool, error) {
	u := ParseURI(uri)
	if u.Scheme == schemeLocal {
		_, err := os.Stat(u.Key)
		if os.IsNotExist(err) {
			return false, nil
		}
		return err == nil, err
	}
	store, err := a.store(u.Scheme)
	if err != nil {
		return false, err
	}
	return store.Exists(ctx, u.Bucket, u.Key)
}

// Read returns ErrObjectNotFound when nothing exists at uri
func (a *Artifacts) Read(ctx context.Context, uri string) ([]byte, error) {
	u := ParseURI(uri)
	if u.Scheme == schemeLocal {
		data, err := os.ReadFile(u.Key)
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return data, err
	}
	store, err := a.store(u.Scheme)
	if err != nil {
		return nil, err
	}
	return store.Read(ctx, u.Bucket, u.Key)
}

// IsModel reports whether uri is a directory holding a model manifest
func (a *Artifacts) IsModel(ctx context.Context, uri string) (bool, error) {
	u := ParseURI(uri)
	if u.Scheme == schemeLocal {
		info, err := os.Stat(u.Key)
		if err != nil || !info.IsDir() {
			return false, nil
		}
	}
	ok, err := a.Exists(ctx, JoinURI(uri, ModelManifest))
	if err != nil {
		return false, pkgerrors.Wrapf(err, "probe model %s", uri)
	}
	return ok, nil
}
