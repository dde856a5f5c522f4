// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package store owns the persisted deployment state. Every mutation is
// flushed to disk before the call returns, so the orchestrator can crash at
// any point and resume from the last persisted stage.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/clusterra/cluster-connect/model"
)

// DeploymentStore loads, mutates, and durably persists the deployment state.
// It exclusively owns both the in-memory record and its on-disk mirror;
// callers read snapshots and propose mutations, they never write the backing
// file themselves.
type DeploymentStore struct {
	path   string
	state  *model.DeploymentState
	logger log.FieldLogger
}

// New creates a deployment store backed by the json document at path. The
// state is not read until Load is called.
func New(path string, logger log.FieldLogger) *DeploymentStore {
	return &DeploymentStore{
		path:   path,
		state:  model.NewDeploymentState(),
		logger: logger,
	}
}

// Load reads the last-persisted state, or initializes a fresh not-started
// state when no file exists or the stored payload is unreadable. Corruption
// is treated as "start over", never as a fatal error.
func (s *DeploymentStore) Load() (*model.DeploymentState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = model.NewDeploymentState()
		return s.state.Clone(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read deployment state file")
	}

	var state model.DeploymentState
	if err = json.Unmarshal(data, &state); err != nil {
		s.logger.WithError(err).Warnf("Deployment state file %s is corrupt; starting over", s.path)
		s.state = model.NewDeploymentState()
		return s.state.Clone(), nil
	}

	stage, err := model.ParseDeploymentStage(state.Stage.String())
	if err != nil {
		s.logger.WithError(err).Warnf("Deployment state file %s has an unrecognized stage; starting over", s.path)
		s.state = model.NewDeploymentState()
		return s.state.Clone(), nil
	}
	state.Stage = stage

	if state.FailedStage != "" {
		failedStage, err := model.ParseDeploymentStage(state.FailedStage.String())
		if err != nil {
			// The recorded failure point is advisory only; drop it rather
			// than discarding an otherwise healthy state.
			s.logger.WithError(err).Warn("Dropping unrecognized failed stage from deployment state")
			failedStage = ""
		}
		state.FailedStage = failedStage
	}

	s.state = &state

	return s.state.Clone(), nil
}

// State returns a snapshot of the current deployment state.
func (s *DeploymentStore) State() *model.DeploymentState {
	return s.state.Clone()
}

// SetStage updates the current stage and persists the state.
func (s *DeploymentStore) SetStage(stage model.DeploymentStage) error {
	s.state.Stage = stage
	s.state.UpdateAt = model.GetMillis()

	return s.save()
}

// SetFailed marks the deployment failed, recording the stage that was
// executing and a diagnostic message, and persists the state.
func (s *DeploymentStore) SetFailed(failedStage model.DeploymentStage, message string) error {
	s.state.Stage = model.DeploymentStageFailed
	s.state.FailedStage = failedStage
	s.state.LastError = message
	s.state.UpdateAt = model.GetMillis()

	return s.save()
}

// Update applies the given mutation to the state and persists it.
func (s *DeploymentStore) Update(mutate func(*model.DeploymentState)) error {
	mutate(s.state)
	s.state.UpdateAt = model.GetMillis()

	return s.save()
}

// Clear deletes the backing file and resets to a fresh state.
func (s *DeploymentStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove deployment state file")
	}
	s.state = model.NewDeploymentState()

	return nil
}

// save writes the full state atomically: the document is written to a
// temporary file in the same directory and renamed over the target, so a
// crash mid-write can never leave a partial payload behind.
func (s *DeploymentStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal deployment state")
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create deployment state directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary state file")
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write deployment state")
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to sync deployment state")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temporary state file")
	}

	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "failed to replace deployment state file")
	}

	return nil
}
