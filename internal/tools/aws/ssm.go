// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/internal/tools/utils"
)

const (
	// runShellScriptDocument is the stock SSM document used for every remote
	// command bundle.
	runShellScriptDocument = "AWS-RunShellScript"

	commandPollInterval  = 2 * time.Second
	commandPollTimeout   = 60 * time.Second
	commandSubmitRetries = 3
	commandSubmitBackoff = 10 * time.Second

	agentPollInterval = 5 * time.Second
)

// RunShellCommands submits a shell command bundle to the given instance and
// waits for it to finish, returning captured stdout. Each submission is
// polled for up to a minute; a failed, canceled, or timed-out execution is
// resubmitted up to three times in total, as is an instance the agent has
// not yet registered. Any other API error is terminal.
func (c *Client) RunShellCommands(ctx context.Context, instanceID string, commands []string) (string, error) {
	var stdout string

	err := utils.RetryN(ctx, commandSubmitRetries, commandSubmitBackoff, func() error {
		sent, err := c.aws.ssm.SendCommand(ctx, &ssm.SendCommandInput{
			InstanceIds:  []string{instanceID},
			DocumentName: aws.String(runShellScriptDocument),
			Parameters:   map[string][]string{"commands": commands},
		})
		if err != nil {
			if IsErrorCode(err, "InvalidInstanceId") {
				// The agent has not registered yet; worth waiting out.
				return errors.Wrapf(err, "instance %s not yet reachable", instanceID)
			}
			return backoff.Permanent(errors.Wrap(err, "failed to send command"))
		}

		commandID := aws.ToString(sent.Command.CommandId)
		stdout, err = c.waitForCommand(ctx, commandID, instanceID)
		return err
	})
	if err != nil {
		return "", err
	}

	return stdout, nil
}

// waitForCommand polls a single command invocation to a terminal status.
func (c *Client) waitForCommand(ctx context.Context, commandID, instanceID string) (string, error) {
	var stdout string

	err := utils.WaitForFunc(ctx, utils.WaitConfig{
		Timeout:  commandPollTimeout,
		Interval: commandPollInterval,
		Logger:   c.logger.WithField("command", commandID),
	}, func() (bool, error) {
		invocation, err := c.aws.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			if IsErrorCode(err, "InvocationDoesNotExist") {
				// The invocation record lags the submission briefly.
				return false, nil
			}
			return false, errors.Wrap(err, "failed to get command invocation")
		}

		switch invocation.Status {
		case types.CommandInvocationStatusSuccess:
			stdout = aws.ToString(invocation.StandardOutputContent)
			return true, nil
		case types.CommandInvocationStatusFailed,
			types.CommandInvocationStatusCancelled,
			types.CommandInvocationStatusTimedOut:
			detail := strings.TrimSpace(aws.ToString(invocation.StandardErrorContent))
			if detail == "" {
				detail = "command failed"
			}
			return false, errors.Errorf("command %s finished %s: %s", commandID, invocation.Status, detail)
		default:
			return false, nil
		}
	})
	if errors.Is(err, utils.ErrWaitTimeout) {
		return "", errors.Errorf("timed out waiting for command %s to finish", commandID)
	}
	if err != nil {
		return "", err
	}

	return stdout, nil
}

// RunScript ships a local script to the instance base64-encoded and executes
// it with the given arguments. Encoding sidesteps heredoc quoting issues in
// the shell bundle.
func (c *Client) RunScript(ctx context.Context, instanceID, scriptPath string, args []string) (string, error) {
	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read script %s", scriptPath)
	}

	encoded := base64.StdEncoding.EncodeToString(content)
	command := fmt.Sprintf(
		"echo '%s' | base64 -d > /tmp/script.sh && chmod +x /tmp/script.sh && sudo bash /tmp/script.sh %s",
		encoded, quoteArgs(args),
	)

	c.logger.WithField("script", filepath.Base(scriptPath)).Infof("Running script on %s", instanceID)

	return c.RunShellCommands(ctx, instanceID, []string{command})
}

// RunScriptPackage bundles a local directory into an in-memory tarball,
// ships it to the instance, and executes the named script from inside it.
func (c *Client) RunScriptPackage(ctx context.Context, instanceID, dir, mainScript string, args []string) (string, error) {
	archive, err := packageDirectory(dir)
	if err != nil {
		return "", err
	}

	name := filepath.Base(dir)
	remoteDir := "/tmp/" + name
	encoded := base64.StdEncoding.EncodeToString(archive)
	commands := []string{
		fmt.Sprintf("rm -rf %s", remoteDir),
		fmt.Sprintf("cd /tmp && echo '%s' | base64 -d | tar -xz", encoded),
		fmt.Sprintf("chmod +x %s/*", remoteDir),
		fmt.Sprintf("sudo bash %s/%s %s", remoteDir, mainScript, quoteArgs(args)),
	}

	c.logger.WithField("package", name).Infof("Deploying script package to %s", instanceID)

	return c.RunShellCommands(ctx, instanceID, commands)
}

// WaitForAgentOnline polls whether the instance's management agent reports
// online, within the given timeout. Escalation on a slow agent is the
// caller's call; this performs exactly one bounded wait.
func (c *Client) WaitForAgentOnline(ctx context.Context, instanceID string, timeout time.Duration) error {
	err := utils.WaitForFunc(ctx, utils.WaitConfig{
		Timeout:  timeout,
		Interval: agentPollInterval,
		Logger:   c.logger.WithField("instance", instanceID),
	}, func() (bool, error) {
		output, err := c.aws.ssm.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
			Filters: []types.InstanceInformationStringFilter{
				{Key: aws.String("InstanceIds"), Values: []string{instanceID}},
			},
		})
		if err != nil {
			// Not terminal; the agent may simply not have registered yet.
			c.logger.WithError(err).Debug("Failed to describe instance information")
			return false, nil
		}
		if len(output.InstanceInformationList) == 0 {
			return false, nil
		}

		return output.InstanceInformationList[0].PingStatus == types.PingStatusOnline, nil
	})
	if errors.Is(err, utils.ErrWaitTimeout) {
		return errors.Errorf("management agent on %s did not come online within %s", instanceID, timeout)
	}

	return err
}

func quoteArgs(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, arg := range args {
		quoted = append(quoted, "'"+arg+"'")
	}

	return strings.Join(quoted, " ")
}

// packageDirectory builds a gzip-compressed tarball of dir, rooted at the
// directory's own name so it unpacks into a single folder.
func packageDirectory(dir string) ([]byte, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat script directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}

	var buffer bytes.Buffer
	gzipWriter := gzip.NewWriter(&buffer)
	tarWriter := tar.NewWriter(gzipWriter)

	base := filepath.Base(dir)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.Join(base, relative)

		if err = tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		_, err = io.Copy(tarWriter, file)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to package directory %s", dir)
	}

	if err = tarWriter.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize package")
	}
	if err = gzipWriter.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to compress package")
	}

	return buffer.Bytes(), nil
}
