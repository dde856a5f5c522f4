package tofu

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/clusterra/cluster-connect/internal/tools/utils"
)

// Init invokes tofu init. Provider downloads are the flakiest part of the
// whole deployment, so failures are retried with backoff.
func (c *Cmd) Init() error {
	backoff := utils.NewExponentialBackoff(5*time.Second, 30*time.Second, 2*time.Minute)
	err := backoff.Retry(func() error {
		_, _, err := c.run("init")
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to invoke tofu init")
	}

	return nil
}

// ApplyTarget invokes tofu apply restricted to the given module target.
func (c *Cmd) ApplyTarget(target string) error {
	_, _, err := c.run(
		"apply",
		arg("input", "false"),
		arg("target", target),
		arg("var-file", c.varFile),
		arg("auto-approve"),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to invoke tofu apply for target %s", target)
	}

	return nil
}

// Destroy invokes tofu destroy.
func (c *Cmd) Destroy() error {
	_, _, err := c.run(
		"destroy",
		arg("var-file", c.varFile),
		"-auto-approve",
	)
	if err != nil {
		return errors.Wrap(err, "failed to invoke tofu destroy")
	}

	return nil
}

// DestroyTarget invokes tofu destroy restricted to the given module target.
func (c *Cmd) DestroyTarget(target string) error {
	_, _, err := c.run(
		"destroy",
		arg("target", target),
		arg("var-file", c.varFile),
		"-auto-approve",
	)
	if err != nil {
		return errors.Wrapf(err, "failed to invoke tofu destroy for target %s", target)
	}

	return nil
}

// Version invokes tofu version and returns the value.
func (c *Cmd) Version() (string, error) {
	stdout, _, err := c.run("version")
	trimmed := strings.TrimSuffix(string(stdout), "\n")
	if err != nil {
		return trimmed, errors.Wrap(err, "failed to invoke tofu version")
	}

	return trimmed, nil
}
