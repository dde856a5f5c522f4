// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/vpclattice"
	"github.com/pkg/errors"
)

// IsServiceNetworkVisible determines whether the shared service network can
// be resolved from this account. Visibility is the authoritative signal that
// the resource share was accepted and has propagated.
func (c *Client) IsServiceNetworkVisible(ctx context.Context, serviceNetworkID string) (bool, error) {
	_, err := c.aws.lattice.GetServiceNetwork(ctx, &vpclattice.GetServiceNetworkInput{
		ServiceNetworkIdentifier: aws.String(serviceNetworkID),
	})
	if err != nil {
		if IsErrorNotFound(err) || IsErrorCode(err, "AccessDeniedException") {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to get service network %s", serviceNetworkID)
	}

	return true, nil
}

// AssociateServiceWithNetwork associates the local Lattice service with the
// shared service network. An existing association is success.
func (c *Client) AssociateServiceWithNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error {
	_, err := c.aws.lattice.CreateServiceNetworkServiceAssociation(ctx, &vpclattice.CreateServiceNetworkServiceAssociationInput{
		ServiceNetworkIdentifier: aws.String(serviceNetworkID),
		ServiceIdentifier:        aws.String(serviceARN),
	})
	if err != nil {
		if IsErrorCode(err, "ConflictException") {
			c.logger.Debug("Service already associated with service network")
			return nil
		}
		return errors.Wrapf(err, "failed to associate service %s with network %s", serviceARN, serviceNetworkID)
	}

	c.logger.WithField("network", serviceNetworkID).Info("Associated service with service network")

	return nil
}

// DisassociateServiceFromNetwork removes any association between the local
// Lattice service and the shared service network. Rollback calls this before
// the infrastructure that created the service is destroyed, so the external
// side is never left referencing a dead resource.
func (c *Client) DisassociateServiceFromNetwork(ctx context.Context, serviceARN, serviceNetworkID string) error {
	output, err := c.aws.lattice.ListServiceNetworkServiceAssociations(ctx, &vpclattice.ListServiceNetworkServiceAssociationsInput{
		ServiceNetworkIdentifier: aws.String(serviceNetworkID),
		ServiceIdentifier:        aws.String(serviceARN),
	})
	if err != nil {
		if IsErrorNotFound(err) || IsErrorCode(err, "AccessDeniedException") {
			return nil
		}
		return errors.Wrap(err, "failed to list service network associations")
	}

	for _, association := range output.Items {
		_, err = c.aws.lattice.DeleteServiceNetworkServiceAssociation(ctx, &vpclattice.DeleteServiceNetworkServiceAssociationInput{
			ServiceNetworkServiceAssociationIdentifier: association.Id,
		})
		if err != nil && !IsErrorNotFound(err) {
			return errors.Wrapf(err, "failed to delete service network association %s", aws.ToString(association.Id))
		}
	}

	return nil
}
