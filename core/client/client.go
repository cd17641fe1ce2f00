// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router.
The client is the tool of choice if one request handler needs to call other
handlers to fulfill its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/modelbind/core/access"
)

// Client provides easy access to the REST API
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	acc        *access.Access
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client that makes pseudo-REST requests directly
// through the mux router.
//
// WithAccess() adds an access to the request context, WithContext()
// specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client that makes real REST requests to a backend.
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAccess returns a new client with a preauthorized access. This works
// only directly against the mux router; a normal client uses WithToken().
func (c Client) WithAccess(acc *access.Access) Client {
	c.acc = acc
	return c
}

// WithContext returns a new client with a specific base context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	c.defaultHeaders = headers
	return c
}

// Context returns the base context of requests made by this client
func (c Client) Context() context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.acc != nil {
		ctx = access.ContextWithAccess(ctx, c.acc)
	}
	return ctx
}

func (c Client) do(method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		if c.token != "" {
			r.Header.Add("Authorization", "Bearer "+c.token)
		}
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, _ := io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

func marshalBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if raw, ok := body.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(body)
}

func unmarshalResult(resBody []byte, result interface{}) error {
	if result == nil || len(resBody) == 0 {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

func statusError(method, path string, status, want int, resBody []byte) error {
	return fmt.Errorf("%s %s returned wrong status code: got %v want %v. Error: %s",
		method, path, status, want, strings.TrimSpace(string(resBody)))
}

// RawGet gets the resource at path. Expects http.StatusOK as response,
// otherwise it flags an error. Returns the actual http status code.
//
// The path can be extended with query strings. result can also be a raw
// *[]byte, or nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, resBody, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, statusError(http.MethodGet, path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response,
// otherwise it flags an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be a raw *[]byte or nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("POST to %s: %w", path, err)
	}
	status, resBody, err := c.do(http.MethodPost, path, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return status, statusError(http.MethodPost, path, status, http.StatusCreated, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPatch patches the resource at path. Expects http.StatusOK as response,
// otherwise it flags an error. Returns the actual http status code.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("PATCH to %s: %w", path, err)
	}
	status, resBody, err := c.do(http.MethodPatch, path, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, statusError(http.MethodPatch, path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawPut puts a resource to path. Expects http.StatusOK, http.StatusCreated
// or http.StatusNoContent as valid responses, otherwise it flags an error.
// Returns the actual http status code.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
	}
	status, resBody, err := c.do(http.MethodPut, path, j)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return status, statusError(http.MethodPut, path, status, http.StatusOK, resBody)
	}
	return status, unmarshalResult(resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as
// response, otherwise it flags an error. Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	status, resBody, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent {
		return status, statusError(http.MethodDelete, path, status, http.StatusNoContent, resBody)
	}
	return status, nil
}
