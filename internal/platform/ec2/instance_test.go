package ec2_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awsec2 "github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/phrazzld/papersum/internal/domain"
	"github.com/phrazzld/papersum/internal/platform/ec2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	ec2iface.EC2API

	stateName *string
	err       error
	started   []string
	stopped   []string
}

func (f *fakeEC2) DescribeInstancesWithContext(
	_ aws.Context, in *awsec2.DescribeInstancesInput, _ ...request.Option,
) (*awsec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &awsec2.DescribeInstancesOutput{}
	if f.stateName != nil {
		out.Reservations = []*awsec2.Reservation{{
			Instances: []*awsec2.Instance{{
				InstanceId: in.InstanceIds[0],
				State:      &awsec2.InstanceState{Name: f.stateName},
			}},
		}}
	}
	return out, nil
}

func (f *fakeEC2) StartInstancesWithContext(
	_ aws.Context, in *awsec2.StartInstancesInput, _ ...request.Option,
) (*awsec2.StartInstancesOutput, error) {
	f.started = append(f.started, aws.StringValueSlice(in.InstanceIds)...)
	return &awsec2.StartInstancesOutput{}, f.err
}

func (f *fakeEC2) StopInstancesWithContext(
	_ aws.Context, in *awsec2.StopInstancesInput, _ ...request.Option,
) (*awsec2.StopInstancesOutput, error) {
	f.stopped = append(f.stopped, aws.StringValueSlice(in.InstanceIds)...)
	return &awsec2.StopInstancesOutput{}, f.err
}

func TestInstance_State(t *testing.T) {
	tests := []struct {
		name      string
		stateName *string
		want      domain.PowerState
	}{
		{"running", aws.String("running"), domain.PowerStateRunning},
		{"stopped", aws.String("stopped"), domain.PowerStateStopped},
		{"shutting-down maps to unknown", aws.String("shutting-down"), domain.PowerStateUnknown},
		{"missing instance", nil, domain.PowerStateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instance := ec2.NewInstance(&fakeEC2{stateName: tt.stateName}, "i-123")
			state, err := instance.State(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestInstance_StartStop(t *testing.T) {
	fake := &fakeEC2{}
	instance := ec2.NewInstance(fake, "i-123")

	require.NoError(t, instance.Start(context.Background()))
	require.NoError(t, instance.Stop(context.Background()))
	assert.Equal(t, []string{"i-123"}, fake.started)
	assert.Equal(t, []string{"i-123"}, fake.stopped)
	assert.Equal(t, "i-123", instance.ID())
}

func TestInstance_Errors(t *testing.T) {
	cause := errors.New("unauthorized")
	instance := ec2.NewInstance(&fakeEC2{err: cause}, "i-123")

	state, err := instance.State(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, domain.PowerStateUnknown, state)
	assert.ErrorIs(t, instance.Start(context.Background()), cause)
}
