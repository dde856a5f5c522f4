// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"bytes"
	"encoding/base32"
	"fmt"

	"github.com/pborman/uuid"
	"github.com/sirupsen/logrus"
)

var encoding = base32.NewEncoding("ybndrfg8ejkmcpqxot1uwisza345h769")

// NewID is a globally unique identifier. It is a [a-z0-9] string 26
// characters long. It is a UUID version 4 Guid that is zbased32 encoded
// with the padding stripped off.
func NewID() string {
	var b bytes.Buffer
	encoder := base32.NewEncoder(encoding, &b)

	if _, err := encoder.Write(uuid.NewRandom()); err != nil {
		logrus.WithError(err).Error("failed to write to encoder")
		return err.Error()
	}

	if err := encoder.Close(); err != nil {
		logrus.WithError(err).Error("failed to close encoder")
		return err.Error()
	}

	b.Truncate(26)
	return b.String()
}

// NewClusterID generates a short cluster identifier of the form clusXXXX,
// matching the format the Clusterra console expects.
func NewClusterID() string {
	return fmt.Sprintf("clus%x", []byte(uuid.NewRandom())[:2])
}

// IsValidClusterID determines whether the given value is a well-formed
// cluster identifier.
func IsValidClusterID(id string) bool {
	return len(id) == 8 && id[:4] == "clus"
}
