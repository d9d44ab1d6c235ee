package external

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/mock"
	"gopkg.in/gomail.v2"
)

type mockSES struct{ mock.Mock }

func (m *mockSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func (m *mockSES) CreateEmailIdentity(ctx context.Context, in *sesv2.CreateEmailIdentityInput, _ ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.CreateEmailIdentityOutput)
	return out, args.Error(1)
}

func (m *mockSES) DeleteEmailIdentity(ctx context.Context, in *sesv2.DeleteEmailIdentityInput, _ ...func(*sesv2.Options)) (*sesv2.DeleteEmailIdentityOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sesv2.DeleteEmailIdentityOutput)
	return out, args.Error(1)
}

type mockSNS struct{ mock.Mock }

func (m *mockSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func (m *mockSNS) CreateTopic(ctx context.Context, in *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.CreateTopicOutput)
	return out, args.Error(1)
}

func (m *mockSNS) DeleteTopic(ctx context.Context, in *sns.DeleteTopicInput, _ ...func(*sns.Options)) (*sns.DeleteTopicOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.DeleteTopicOutput)
	return out, args.Error(1)
}

type fakeSMTP struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSMTP) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}
