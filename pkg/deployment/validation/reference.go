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

package validation

import (
	"context"
	"time"

	"github.com/bluele/gcache"
	"github.com/ghodss/yaml"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mlpanel/deploy/pkg/deployment/cloud"
)

const (
	TypeInt    = "INT"
	TypeFloat  = "FLOAT"
	TypeString = "STRING"
	TypeBool   = "BOOL"
)

// Reference holds the statistics a model was trained on. It is read from a json or yaml
// file stored next to the model directory.
type Reference struct {
	NumExamples int64          `json:"num_examples"`
	Features    []FeatureStats `json:"features"`
}

type FeatureStats struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Mean   *float64 `json:"mean,omitempty"`
	StdDev *float64 `json:"std_dev,omitempty"`
}

func (r *Reference) feature(name string) (FeatureStats, bool) {
	for _, f := range r.Features {
		if f.Name == name {
			return f, true
		}
	}
	return FeatureStats{}, false
}

// ArtifactReader returns cloud.ErrObjectNotFound for a missing artifact
type ArtifactReader interface {
	Read(ctx context.Context, uri string) ([]byte, error)
}

type cachedReference struct {
	ref *Reference
}

type referenceLoader struct {
	reader ArtifactReader
	cache  gcache.Cache
}

func newReferenceLoader(reader ArtifactReader, cacheSize int, expire time.Duration) *referenceLoader {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cacheBuilder := gcache.New(cacheSize).LRU()
	if expire > 0 {
		cacheBuilder.Expiration(expire)
	}
	return &referenceLoader{reader: reader, cache: cacheBuilder.Build()}
}

// load returns nil without error when no reference exists at uri
func (l *referenceLoader) load(ctx context.Context, uri string) (*Reference, error) {
	if item, err := l.cache.Get(uri); err == nil {
		return item.(cachedReference).ref, nil
	}
	data, err := l.reader.Read(ctx, uri)
	if pkgerrors.Is(err, cloud.ErrObjectNotFound) {
		log.Debugf("no reference statistics at %s", uri)
		_ = l.cache.Set(uri, cachedReference{})
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read reference statistics %s", uri)
	}
	ref := &Reference{}
	// yaml.Unmarshal accepts json as well
	if err = yaml.Unmarshal(data, ref); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse reference statistics %s", uri)
	}
	_ = l.cache.Set(uri, cachedReference{ref: ref})
	return ref, nil
}
