package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSSMClient struct {
	mock.Mock
}

func (m *mockSSMClient) GetParameters(ctx context.Context, params *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*ssm.GetParametersOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func echoParameters(params *ssm.GetParametersInput) *ssm.GetParametersOutput {
	out := &ssm.GetParametersOutput{}
	for _, name := range params.Names {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String("value-of-" + name),
		})
	}
	return out
}

func TestSSMProviderBatchesByTen(t *testing.T) {
	client := new(mockSSMClient)
	var keys []string
	for i := 0; i < 12; i++ {
		keys = append(keys, fmt.Sprintf("/herald/k%02d", i))
	}

	client.On("GetParameters", mock.Anything, mock.MatchedBy(func(in *ssm.GetParametersInput) bool {
		return len(in.Names) == 10 && aws.ToBool(in.WithDecryption)
	})).Return(echoParameters(&ssm.GetParametersInput{Names: keys[:10]}), nil).Once()
	client.On("GetParameters", mock.Anything, mock.MatchedBy(func(in *ssm.GetParametersInput) bool {
		return len(in.Names) == 2
	})).Return(echoParameters(&ssm.GetParametersInput{Names: keys[10:]}), nil).Once()

	p := newSSMProviderWithClient("us-east-1", client)
	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, 12)
	assert.Equal(t, "value-of-/herald/k11", got["/herald/k11"])
	client.AssertExpectations(t)
}

func TestSSMProviderInvalidParameters(t *testing.T) {
	client := new(mockSSMClient)
	client.On("GetParameters", mock.Anything, mock.Anything).
		Return(&ssm.GetParametersOutput{InvalidParameters: []string{"/herald/missing"}}, nil)

	p := newSSMProviderWithClient("us-east-1", client)
	_, err := p.GetParametersBatch(context.Background(), []string{"/herald/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/herald/missing")
}

func TestSSMProviderClientError(t *testing.T) {
	client := new(mockSSMClient)
	boom := errors.New("access denied")
	client.On("GetParameters", mock.Anything, mock.Anything).Return(nil, boom)

	p := newSSMProviderWithClient("us-east-1", client)
	_, err := p.GetParametersBatch(context.Background(), []string{"/herald/db"})
	assert.ErrorIs(t, err, boom)
}

func TestSSMProviderCancelledContext(t *testing.T) {
	client := new(mockSSMClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newSSMProviderWithClient("us-east-1", client)
	_, err := p.GetParametersBatch(ctx, []string{"/herald/db"})
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "GetParameters", mock.Anything, mock.Anything)
}

func TestSSMProviderEmptyKeys(t *testing.T) {
	p := NewSSMProvider("us-east-1")
	got, err := p.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnvVarProvider(t *testing.T) {
	t.Setenv("HERALD_TEST_PRESENT", "yes")
	unsetEnv(t, "HERALD_TEST_ABSENT")

	got, err := NewEnvVarProvider().GetParametersBatch(context.Background(),
		[]string{"HERALD_TEST_PRESENT", "HERALD_TEST_ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"HERALD_TEST_PRESENT": "yes"}, got)
}
