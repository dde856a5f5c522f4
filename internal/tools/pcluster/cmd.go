package pcluster

import (
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Cmd is the pcluster command to execute.
type Cmd struct {
	pclusterPath string
	region       string
	logger       log.FieldLogger
}

// New creates a new instance of Cmd through which to execute the
// ParallelCluster CLI in the given region.
func New(region string, logger log.FieldLogger) (*Cmd, error) {
	if region == "" {
		return nil, errors.New("region cannot be an empty value")
	}
	pclusterPath, err := exec.LookPath("pcluster")
	if err != nil {
		return nil, errors.Wrap(err, "failed to find pcluster installed on your PATH")
	}

	return &Cmd{
		pclusterPath: pclusterPath,
		region:       region,
		logger:       logger,
	}, nil
}
