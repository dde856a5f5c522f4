// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterra/cluster-connect/internal/testlib"
	"github.com/clusterra/cluster-connect/model"
)

func statePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "deployment-state.json")
}

func TestLoadFresh(t *testing.T) {
	store := New(statePath(t), testlib.MakeLogger(t))

	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageNotStarted, state.Stage)
	assert.Equal(t, model.ScenarioNewCluster, state.Scenario)
}

func TestPersistenceRoundtrip(t *testing.T) {
	path := statePath(t)
	logger := testlib.MakeLogger(t)

	store := New(path, logger)
	_, err := store.Load()
	require.NoError(t, err)

	err = store.Update(func(s *model.DeploymentState) {
		s.ClusterName = "cluster1"
		s.ClusterID = "clusab12"
		s.ConfigPath = "generated/cluster1-config.yaml"
	})
	require.NoError(t, err)
	require.NoError(t, store.SetStage(model.DeploymentStageClusterPending))

	reloaded := New(path, logger)
	state, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, "cluster1", state.ClusterName)
	assert.Equal(t, "clusab12", state.ClusterID)
	assert.Equal(t, "generated/cluster1-config.yaml", state.ConfigPath)
	assert.Equal(t, model.DeploymentStageClusterPending, state.Stage)
}

func TestLoadCorruptFileStartsOver(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := New(path, testlib.MakeLogger(t))
	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageNotStarted, state.Stage)
	assert.Empty(t, state.ClusterName)
}

func TestLoadUnknownStageStartsOver(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"cluster_name":"cluster1","stage":"warp-speed"}`), 0o644))

	store := New(path, testlib.MakeLogger(t))
	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageNotStarted, state.Stage)
	assert.Empty(t, state.ClusterName)
}

func TestLoadMigratesLegacyStage(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"cluster_name":"cluster1","stage":"PHASE_2B_SSM"}`), 0o644))

	store := New(path, testlib.MakeLogger(t))
	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageConfigureDaemon, state.Stage)
	assert.Equal(t, "cluster1", state.ClusterName)
}

func TestLoadDropsUnknownFailedStage(t *testing.T) {
	path := statePath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"cluster_name":"cluster1","stage":"failed","failed_stage":"warp-speed"}`), 0o644))

	store := New(path, testlib.MakeLogger(t))
	state, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageFailed, state.Stage)
	assert.Empty(t, state.FailedStage)
	assert.Equal(t, "cluster1", state.ClusterName)
}

func TestSetFailed(t *testing.T) {
	path := statePath(t)
	logger := testlib.MakeLogger(t)

	store := New(path, logger)
	_, err := store.Load()
	require.NoError(t, err)

	require.NoError(t, store.SetFailed(model.DeploymentStageConnectivity, "apply exploded"))

	state, err := New(path, logger).Load()
	require.NoError(t, err)
	assert.Equal(t, model.DeploymentStageFailed, state.Stage)
	assert.Equal(t, model.DeploymentStageConnectivity, state.FailedStage)
	assert.Equal(t, "apply exploded", state.LastError)
}

func TestStateReturnsSnapshot(t *testing.T) {
	store := New(statePath(t), testlib.MakeLogger(t))
	_, err := store.Load()
	require.NoError(t, err)

	snapshot := store.State()
	snapshot.ClusterName = "mutated"
	assert.Empty(t, store.State().ClusterName)
}

func TestClear(t *testing.T) {
	path := statePath(t)
	logger := testlib.MakeLogger(t)

	store := New(path, logger)
	_, err := store.Load()
	require.NoError(t, err)
	require.NoError(t, store.SetStage(model.DeploymentStageComplete))
	require.NoError(t, store.Clear())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, model.DeploymentStageNotStarted, store.State().Stage)

	// Clearing an already-clean store is not an error.
	require.NoError(t, store.Clear())
}
