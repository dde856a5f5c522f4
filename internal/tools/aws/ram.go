// Copyright (c) 2025-present Clusterra, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ram"
	ramtypes "github.com/aws/aws-sdk-go-v2/service/ram/types"
	"github.com/pkg/errors"
)

// ShareInvitation is a cross-account resource share invitation.
type ShareInvitation struct {
	ARN           string
	Name          string
	SenderAccount string
	Status        string
}

// Pending determines whether the invitation still needs accepting.
func (i *ShareInvitation) Pending() bool {
	return i.Status == string(ramtypes.ResourceShareInvitationStatusPending)
}

// Accepted determines whether the invitation was already accepted.
func (i *ShareInvitation) Accepted() bool {
	return i.Status == string(ramtypes.ResourceShareInvitationStatusAccepted)
}

// FindServiceNetworkInvitation looks for a resource share invitation whose
// share name contains nameSubstring, optionally restricted to the given
// sender account. The most recent match wins; nil means no invitation has
// arrived yet.
func (c *Client) FindServiceNetworkInvitation(ctx context.Context, nameSubstring, senderAccount string) (*ShareInvitation, error) {
	var match *ramtypes.ResourceShareInvitation

	paginator := ram.NewGetResourceShareInvitationsPaginator(c.aws.ram, &ram.GetResourceShareInvitationsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list resource share invitations")
		}

		for i := range page.ResourceShareInvitations {
			invitation := page.ResourceShareInvitations[i]
			if !strings.Contains(aws.ToString(invitation.ResourceShareName), nameSubstring) {
				continue
			}
			if senderAccount != "" && aws.ToString(invitation.SenderAccountId) != senderAccount {
				continue
			}
			if match == nil || laterInvitation(&invitation, match) {
				match = &invitation
			}
		}
	}

	if match == nil {
		return nil, nil
	}

	return &ShareInvitation{
		ARN:           aws.ToString(match.ResourceShareInvitationArn),
		Name:          aws.ToString(match.ResourceShareName),
		SenderAccount: aws.ToString(match.SenderAccountId),
		Status:        string(match.Status),
	}, nil
}

// AcceptShareInvitation accepts a resource share invitation by ARN.
func (c *Client) AcceptShareInvitation(ctx context.Context, invitationARN string) error {
	_, err := c.aws.ram.AcceptResourceShareInvitation(ctx, &ram.AcceptResourceShareInvitationInput{
		ResourceShareInvitationArn: aws.String(invitationARN),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to accept resource share invitation %s", invitationARN)
	}

	c.logger.WithField("invitation", invitationARN).Info("Accepted resource share invitation")

	return nil
}

func laterInvitation(a, b *ramtypes.ResourceShareInvitation) bool {
	if a.InvitationTimestamp == nil || b.InvitationTimestamp == nil {
		return false
	}

	return a.InvitationTimestamp.After(*b.InvitationTimestamp)
}
