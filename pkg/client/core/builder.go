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

package core

import (
	"context"
	"fmt"
	"net/url"
)

// RequestBuilder holds the fields of one api call.
// url and method are required, the others are optional.
type RequestBuilder struct {
	client Client

	url         string
	method      string
	queryParams url.Values
	headers     map[string]string
	body        interface{}
	rawBody     []byte
	contentType string
	result      interface{}
}

func NewRequestBuilder(client Client) *RequestBuilder {
	return &RequestBuilder{
		client: client,
	}
}

func (b *RequestBuilder) WithURL(url string) *RequestBuilder {
	b.url = url
	return b
}

func (b *RequestBuilder) WithMethod(method string) *RequestBuilder {
	b.method = method
	return b
}

func (b *RequestBuilder) WithQueryParam(key, value string) *RequestBuilder {
	if b.queryParams == nil {
		b.queryParams = url.Values{}
	}
	b.queryParams.Add(key, value)
	return b
}

// WithQueryParamFilter sets the param only when the value is not blank
func (b *RequestBuilder) WithQueryParamFilter(key, value string) *RequestBuilder {
	if len(value) == 0 {
		return b
	}
	return b.WithQueryParam(key, value)
}

func (b *RequestBuilder) WithHeader(key, value string) *RequestBuilder {
	if b.headers == nil {
		b.headers = make(map[string]string)
	}
	b.headers[key] = value
	return b
}

// WithBody sends body encoded as json
func (b *RequestBuilder) WithBody(body interface{}) *RequestBuilder {
	b.body = body
	return b
}

// WithRawBody sends data untouched with the given content type
func (b *RequestBuilder) WithRawBody(contentType string, data []byte) *RequestBuilder {
	b.contentType = contentType
	b.rawBody = data
	return b
}

func (b *RequestBuilder) WithResult(result interface{}) *RequestBuilder {
	b.result = result
	return b
}

// Do sends the request and decodes a json answer into the result
func (b *RequestBuilder) Do(ctx context.Context) error {
	resp, err := b.Send(ctx)
	if err != nil {
		return err
	}
	if resp.IsFail() {
		return resp.ServiceError()
	}
	if b.result == nil {
		return nil
	}
	return resp.ParseJsonBody(b.result)
}

// Send returns the response whatever its status, for calls that forward foreign bodies
func (b *RequestBuilder) Send(ctx context.Context) (*Response, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	req, err := b.buildRequest()
	if err != nil {
		return nil, err
	}
	return b.client.SendRequest(ctx, req)
}

func (b *RequestBuilder) validate() error {
	if len(b.url) == 0 {
		return fmt.Errorf("the url can't be null")
	}
	if len(b.method) == 0 {
		return fmt.Errorf("the method can't be null")
	}
	if b.client == nil {
		return fmt.Errorf("the client can't be null")
	}
	return nil
}

func (b *RequestBuilder) buildRequest() (*Request, error) {
	req := &Request{
		Method:  b.method,
		URI:     b.url,
		Params:  b.queryParams,
		Headers: map[string]string{},
	}
	for k, v := range b.headers {
		req.Headers[k] = v
	}
	switch {
	case b.rawBody != nil:
		req.Body = b.rawBody
		req.Headers[HeaderContentType] = b.contentType
	case b.body != nil:
		body, err := NewRequestBodyWithStruct(b.body)
		if err != nil {
			return nil, err
		}
		req.Body = body
		req.Headers[HeaderContentType] = ContentTypeJSON
	}
	return req, nil
}
