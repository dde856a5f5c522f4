package tofu

import (
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Cmd is the tofu command to execute.
type Cmd struct {
	tofuPath string
	dir      string
	varFile  string
	logger   log.FieldLogger
}

// New creates a new instance of Cmd through which to execute tofu against the
// configuration rooted at dir, using the given variable file for every plan.
func New(dir, varFile string, logger log.FieldLogger) (*Cmd, error) {
	if varFile == "" {
		return nil, errors.New("variable file cannot be an empty value")
	}
	tofuPath, err := exec.LookPath("tofu")
	if err != nil {
		return nil, errors.Wrap(err, "failed to find tofu installed on your PATH")
	}

	return &Cmd{
		tofuPath: tofuPath,
		dir:      dir,
		varFile:  varFile,
		logger:   logger,
	}, nil
}

// GetWorkingDirectory returns the working directory used by tofu.
func (c *Cmd) GetWorkingDirectory() string {
	return c.dir
}

// Close is a no-op.
func (c *Cmd) Close() error {
	return nil
}
