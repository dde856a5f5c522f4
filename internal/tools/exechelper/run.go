// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package exechelper streamlines the running of external commands while both
// capturing and logging their output.
//
// It builds on os/exec, expecting an instance of Cmd to manipulate.
package exechelper

import (
	"bufio"
	"bytes"
	"io"
	"os/exec"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/clusterra/cluster-connect/model"
)

// OutputLogger allows custom logging of the run command output.
type OutputLogger func(line string, logger log.FieldLogger)

func scanInto(reader io.Reader, buffer *bytes.Buffer, logger log.FieldLogger, outputLogger OutputLogger) {
	scanner := bufio.NewScanner(io.TeeReader(reader, buffer))
	for scanner.Scan() {
		line := scanner.Text()
		if outputLogger == nil {
			logger.Info(line)
		} else {
			outputLogger(line, logger)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.WithError(err).Error("failed to scan command output")
	}
}

// Run invokes the given command, both logging and returning STDOUT and
// STDERR, optionally transforming the output lines first.
func Run(cmd *exec.Cmd, logger log.FieldLogger, outputLogger OutputLogger) ([]byte, []byte, error) {
	// A unique identifier for the invocation by which to group log lines.
	logger = logger.WithField("run", model.NewID())

	logger.WithFields(log.Fields{
		"cmd":  cmd.Path,
		"args": cmd.Args,
	}).Info("Invoking command")

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open stderr pipe")
	}

	if err = cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to start command")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanInto(stdoutPipe, stdout, logger, outputLogger)
	}()
	go func() {
		defer wg.Done()
		scanInto(stderrPipe, stderr, logger, outputLogger)
	}()
	wg.Wait()

	if err = cmd.Wait(); err != nil {
		logger.WithError(err).Error("failed invocation")

		return stdout.Bytes(), stderr.Bytes(), errors.Wrap(err, "failed invocation")
	}

	return stdout.Bytes(), stderr.Bytes(), nil
}
