// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/pkg/errors"
)

// identityToken is the payload handed to the registration API. The server
// replays the presigned request against STS to verify the caller really
// controls the AWS account being registered.
type identityToken struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// GenerateIdentityToken builds a self-signed, time-limited account
// verification token from a presigned GetCallerIdentity request.
func (c *Client) GenerateIdentityToken(ctx context.Context) (string, error) {
	presigned, err := c.aws.stsPresign.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", errors.Wrap(err, "failed to presign caller identity request")
	}

	headers := make(map[string]string, len(presigned.SignedHeader))
	for name, values := range presigned.SignedHeader {
		headers[name] = strings.Join(values, ",")
	}

	token := identityToken{
		URL:     presigned.URL,
		Method:  presigned.Method,
		Headers: headers,
		Body:    "Action=GetCallerIdentity&Version=2011-06-15",
	}

	data, err := json.Marshal(token)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal identity token")
	}

	return base64.StdEncoding.EncodeToString(data), nil
}
