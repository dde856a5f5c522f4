// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import "strings"

// Cluster stack statuses, normalized across the pcluster CLI and the native
// CloudFormation status vocabulary.
const (
	// ClusterStatusNotFound indicates no stack exists for the cluster.
	ClusterStatusNotFound = "NOT_FOUND"
	// ClusterStatusCreateInProgress indicates the cluster stack is still
	// being created.
	ClusterStatusCreateInProgress = "CREATE_IN_PROGRESS"
	// ClusterStatusCreateComplete indicates the cluster stack finished
	// creating successfully.
	ClusterStatusCreateComplete = "CREATE_COMPLETE"
	// ClusterStatusCreateFailed indicates the cluster stack failed to create.
	ClusterStatusCreateFailed = "CREATE_FAILED"
	// ClusterStatusDeleteInProgress indicates the cluster stack is being
	// deleted.
	ClusterStatusDeleteInProgress = "DELETE_IN_PROGRESS"
	// ClusterStatusDeleteComplete indicates the cluster stack finished
	// deleting.
	ClusterStatusDeleteComplete = "DELETE_COMPLETE"
	// ClusterStatusDeleteFailed indicates the cluster stack failed to delete.
	ClusterStatusDeleteFailed = "DELETE_FAILED"
)

// ClusterStatusInProgress determines whether the status describes an
// operation that is still running.
func ClusterStatusInProgress(status string) bool {
	return strings.Contains(status, "IN_PROGRESS")
}

// ClusterStatusIsFailure determines whether the status is a terminal failure
// or rollback that should never be waited out.
func ClusterStatusIsFailure(status string) bool {
	return strings.Contains(status, "FAILED") || strings.Contains(status, "ROLLBACK")
}

// ClusterStatusDeleted determines whether the status means the stack is gone.
func ClusterStatusDeleted(status string) bool {
	return status == ClusterStatusNotFound || strings.Contains(status, ClusterStatusDeleteComplete)
}
