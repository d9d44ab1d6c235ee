package external

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"herald/internal/types"
)

func TestSNSProvider_SMS(t *testing.T) {
	api := &mockSNS{}
	api.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.PhoneNumber) == "+14155550123" &&
			aws.ToString(in.Message) == "code 1234" &&
			aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue) == "HERALD" &&
			aws.ToString(in.MessageAttributes["herald.dedupe_token"].StringValue) == "job_1"
	})).Return(&sns.PublishOutput{MessageId: aws.String("sns-1")}, nil)

	p := NewSNSProvider(api, SNSConfig{SMSSenderID: "HERALD"})
	id, err := p.Send(context.Background(), Message{
		Channel:     types.ChannelSMS,
		Recipients:  []string{"+14155550123"},
		Body:        "code 1234",
		DedupeToken: "job_1",
	})

	require.NoError(t, err)
	assert.Equal(t, "sns-1", id)
	api.AssertExpectations(t)
}

func TestSNSProvider_Push(t *testing.T) {
	const endpoint = "arn:aws:sns:us-east-1:123456789012:endpoint/GCM/app/abc"
	var captured *sns.PublishInput
	api := &mockSNS{}
	api.On("Publish", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*sns.PublishInput) }).
		Return(&sns.PublishOutput{MessageId: aws.String("sns-2")}, nil)

	p := NewSNSProvider(api, SNSConfig{})
	_, err := p.Send(context.Background(), Message{
		Channel:    types.ChannelPush,
		Recipients: []string{endpoint},
		Subject:    "Title",
		Body:       "Body",
	})
	require.NoError(t, err)

	assert.Equal(t, endpoint, aws.ToString(captured.TargetArn))
	assert.Equal(t, "json", aws.ToString(captured.MessageStructure))
	var envelope map[string]string
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(captured.Message)), &envelope))
	assert.Equal(t, "Body", envelope["default"])
	assert.Contains(t, envelope["GCM"], "Title")
	assert.Contains(t, envelope["APNS"], "Title")
}

func TestSNSProvider_ErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind FailureKind
	}{
		{"invalid parameter", &snstypes.InvalidParameterException{}, FailurePermanent},
		{"endpoint disabled", &snstypes.EndpointDisabledException{}, FailurePermanent},
		{"not found", &snstypes.NotFoundException{}, FailurePermanent},
		{"throttled", &snstypes.ThrottledException{}, FailureTransient},
		{"internal", &snstypes.InternalErrorException{}, FailureTransient},
		{"opted out", errors.New("phone number is opted out"), FailurePermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &mockSNS{}
			api.On("Publish", mock.Anything, mock.Anything).Return(nil, tc.err)
			p := NewSNSProvider(api, SNSConfig{})
			_, err := p.Send(context.Background(), Message{Channel: types.ChannelSMS, Recipients: []string{"+14155550123"}, Body: "x"})
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestSNSProvider_RejectsBadShape(t *testing.T) {
	p := NewSNSProvider(&mockSNS{}, SNSConfig{})

	_, err := p.Send(context.Background(), Message{Channel: types.ChannelSMS, Recipients: []string{"a", "b"}})
	assert.Equal(t, FailurePermanent, KindOf(err))

	_, err = p.Send(context.Background(), Message{Channel: types.ChannelEmail, Recipients: []string{"a@example.com"}})
	assert.Equal(t, FailurePermanent, KindOf(err))
}
