/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. It
is perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/webkontor/sitecms/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router.
//
// WithAuthorization() adds an authorization to the request context.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithToken returns a new client which sends the passed bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole("admin")
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Identity: "test-" + role,
		Role:     role,
	}
	return c
}

// WithAuthorization returns a new client with a specific authorization
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// Context returns the request context the client uses
func (c Client) Context() context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

func (c Client) do(r *http.Request) (status int, resBody []byte, err error) {
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	resBody, _ = io.ReadAll(res.Body)
	return res.StatusCode, resBody, nil
}

func (c Client) doJSON(method, path string, body interface{}, result interface{}, expect int) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.MarshalWithOption(body, json.DisableHTMLEscape())
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	r, _ := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	status, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status == http.StatusNoContent {
		return status, nil
	}
	if status != expect {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expect, strings.TrimSpace(string(resBody)))
	}
	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// result can be a struct, a map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.doJSON(http.MethodGet, path, nil, result, http.StatusOK)
}

// RawPost posts body to path. Expects http.StatusCreated as response.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.doJSON(http.MethodPost, path, body, result, http.StatusCreated)
}

// RawPostWithStatus posts body to path with a custom expected status,
// for endpoints such as /login which answer http.StatusOK.
func (c Client) RawPostWithStatus(path string, body interface{}, result interface{}, expect int) (int, error) {
	return c.doJSON(http.MethodPost, path, body, result, expect)
}

// RawPut puts body to path. Expects http.StatusOK as response.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.doJSON(http.MethodPut, path, body, result, http.StatusOK)
}

// RawPatch patches the resource at path. Expects http.StatusOK or
// http.StatusNoContent as response.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	return c.doJSON(http.MethodPatch, path, body, result, http.StatusOK)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as response.
func (c Client) RawDelete(path string) (int, error) {
	r, _ := http.NewRequestWithContext(c.Context(), http.MethodDelete, c.url+path, nil)
	status, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusNoContent, strings.TrimSpace(string(resBody)))
	}
	return status, nil
}

// PostMultipart posts a single file as multipart form data under the
// form field "file". Expects http.StatusCreated as response.
func (c Client) PostMultipart(path, filename string, data []byte, result interface{}) (int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	r, _ := http.NewRequestWithContext(c.Context(), http.MethodPost, c.url+path, &buf)
	r.Header.Set("Content-Type", writer.FormDataContentType())
	status, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != http.StatusCreated {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusCreated, strings.TrimSpace(string(resBody)))
	}
	if len(resBody) > 0 && result != nil {
		err = json.Unmarshal(resBody, result)
	}
	return status, err
}
