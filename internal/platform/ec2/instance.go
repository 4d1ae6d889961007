// Package ec2 controls the power state of the compute node's EC2 instance.
package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	awsec2 "github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/phrazzld/papersum/internal/domain"
)

// Instance is one EC2 instance addressed by ID.
type Instance struct {
	client ec2iface.EC2API
	id     string
}

// NewInstance returns a handle on instance id.
func NewInstance(client ec2iface.EC2API, id string) *Instance {
	return &Instance{client: client, id: id}
}

// ID returns the instance ID.
func (i *Instance) ID() string {
	return i.id
}

// State describes the instance and maps its state name. An instance missing
// from the response is reported as unknown.
func (i *Instance) State(ctx context.Context) (domain.PowerState, error) {
	out, err := i.client.DescribeInstancesWithContext(ctx, &awsec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice([]string{i.id}),
	})
	if err != nil {
		return domain.PowerStateUnknown, fmt.Errorf("failed to describe instance %s: %w", i.id, err)
	}

	for _, reservation := range out.Reservations {
		for _, instance := range reservation.Instances {
			if instance.State == nil {
				continue
			}
			return domain.ParsePowerState(aws.StringValue(instance.State.Name)), nil
		}
	}
	return domain.PowerStateUnknown, nil
}

// Start requests the instance to start.
func (i *Instance) Start(ctx context.Context) error {
	_, err := i.client.StartInstancesWithContext(ctx, &awsec2.StartInstancesInput{
		InstanceIds: aws.StringSlice([]string{i.id}),
	})
	if err != nil {
		return fmt.Errorf("failed to start instance %s: %w", i.id, err)
	}
	return nil
}

// Stop requests the instance to stop.
func (i *Instance) Stop(ctx context.Context) error {
	_, err := i.client.StopInstancesWithContext(ctx, &awsec2.StopInstancesInput{
		InstanceIds: aws.StringSlice([]string{i.id}),
	})
	if err != nil {
		return fmt.Errorf("failed to stop instance %s: %w", i.id, err)
	}
	return nil
}
