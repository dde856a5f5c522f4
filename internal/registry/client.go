// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package registry is the programmatic interface to the Clusterra
// registration API.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/clusterra/cluster-connect/model"
)

// identityTokenHeader carries the presigned STS account-verification token.
const identityTokenHeader = "X-AWS-STS-Token"

// defaultRequestTimeout bounds a single registration call. Registration can
// legitimately block server-side while the resource share is prepared, so a
// timeout is ambiguous rather than fatal.
const defaultRequestTimeout = 30 * time.Second

// ErrTimeout indicates the registration request timed out. The registration
// may still have succeeded server-side; callers should check resource-share
// state instead of treating this as failure.
var ErrTimeout = errors.New("registration request timed out")

// Client is the client to the Clusterra registration API.
type Client struct {
	address    string
	httpClient *http.Client
	logger     log.FieldLogger
}

// NewClient creates a client to the registration API at the given address.
func NewClient(address string, logger log.FieldLogger) *Client {
	return &Client{
		address:    address,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		logger:     logger,
	}
}

// closeBody ensures the Body of an http.Response is properly closed.
func closeBody(r *http.Response) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}
}

func (c *Client) buildURL(urlPath string, args ...interface{}) string {
	return fmt.Sprintf("%s%s", c.address, fmt.Sprintf(urlPath, args...))
}

// RegisterCluster posts the registration payload to the tenant-scoped
// connect endpoint, authenticated by the given identity token.
func (c *Client) RegisterCluster(ctx context.Context, tenantID string, request *model.RegisterClusterRequest, identityToken string) (*model.RegisterClusterResponse, error) {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal register cluster request")
	}

	u := c.buildURL("/v1/internal/connect/%s", tenantID)
	c.logger.Infof("POST %s", u)

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(requestBytes))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set(identityTokenHeader, identityToken)

	resp, err := c.httpClient.Do(httpRequest)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, errors.Wrap(err, "failed to reach registration API")
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		return model.RegisterClusterResponseFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

func isTimeout(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}

	return false
}
