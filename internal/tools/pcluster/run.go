// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package pcluster

import (
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/clusterra/cluster-connect/internal/tools/exechelper"
)

func outputLogger(line string, logger log.FieldLogger) {
	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	logger.Infof("[pcluster] %s", line)
}

func (c *Cmd) run(arg ...string) ([]byte, []byte, error) {
	cmd := exec.Command(c.pclusterPath, append(arg, "--region", c.region)...)

	return exechelper.Run(cmd, c.logger, outputLogger)
}
