package sqs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/citybike/pkg/etl/adapter/queue"
	queueConfig "github.com/tigerroll/citybike/pkg/etl/adapter/queue/config"
	"github.com/tigerroll/citybike/pkg/etl/adapter/queue/sqs"
)

const queueURL = "http://localhost:4566/000000000000/notifications"

type mockSQS struct {
	mock.Mock
	cancel context.CancelFunc
}

func (m *mockSQS) ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, _ ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error) {
	args := m.Called(in)
	out, _ := args.Get(0).(*awssqs.ReceiveMessageOutput)
	return out, args.Error(1)
}

func (m *mockSQS) DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, _ ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error) {
	m.Called(aws.ToString(in.ReceiptHandle))
	return &awssqs.DeleteMessageOutput{}, nil
}

func (m *mockSQS) SendMessage(ctx context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	args := m.Called(aws.ToString(in.QueueUrl), aws.ToString(in.MessageBody))
	return &awssqs.SendMessageOutput{MessageId: aws.String("m")}, args.Error(0)
}

func (m *mockSQS) GetQueueUrl(ctx context.Context, in *awssqs.GetQueueUrlInput, _ ...func(*awssqs.Options)) (*awssqs.GetQueueUrlOutput, error) {
	if err := m.Called(aws.ToString(in.QueueName)).Error(0); err != nil {
		return nil, err
	}
	return &awssqs.GetQueueUrlOutput{QueueUrl: aws.String(queueURL)}, nil
}

func message(id, body string) types.Message {
	return types.Message{MessageId: aws.String(id), ReceiptHandle: aws.String("rh-" + id), Body: aws.String(body)}
}

var errPermanent = errors.New("permanent")

func TestConsumeDeletesSettledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := new(mockSQS)
	client.On("ReceiveMessage", mock.MatchedBy(func(in *awssqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == queueURL && in.WaitTimeSeconds == 20 && in.MaxNumberOfMessages == 10
	})).Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{
		message("1", "ok"), message("2", "transient"), message("3", "permanent"),
	}}, nil).Once()
	client.On("ReceiveMessage", mock.Anything).Return(nil, context.Canceled).Run(func(mock.Arguments) { cancel() })
	client.On("DeleteMessage", "rh-1").Once()
	client.On("DeleteMessage", "rh-3").Once()

	a := sqs.NewAdapter(client, queueConfig.QueueConfig{QueueURL: queueURL}, "notifications")
	err := a.Consume(ctx, queue.Subscription{
		Handler: func(_ context.Context, m queue.Message) error {
			switch string(m.Body) {
			case "transient":
				return errors.New("try again")
			case "permanent":
				return errPermanent
			}
			return nil
		},
		Permanent:   func(err error) bool { return errors.Is(err, errPermanent) },
		Concurrency: 3,
	})
	require.NoError(t, err)
	client.AssertExpectations(t)
	client.AssertNotCalled(t, "DeleteMessage", "rh-2")
}

func TestConsumeKeepsPollingAfterReceiveError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := new(mockSQS)
	client.On("ReceiveMessage", mock.Anything).Return(nil, errors.New("connection reset")).Once()
	client.On("ReceiveMessage", mock.Anything).Return(&awssqs.ReceiveMessageOutput{Messages: []types.Message{message("1", "ok")}}, nil).Once()
	client.On("ReceiveMessage", mock.Anything).Return(nil, context.Canceled).Run(func(mock.Arguments) { cancel() })
	client.On("DeleteMessage", "rh-1").Once()

	a := sqs.NewAdapter(client, queueConfig.QueueConfig{QueueURL: queueURL}, "notifications")
	require.NoError(t, a.Consume(ctx, queue.Subscription{Handler: func(context.Context, queue.Message) error { return nil }}))
	client.AssertExpectations(t)
}

func TestPublishResolvesQueueByName(t *testing.T) {
	client := new(mockSQS)
	client.On("GetQueueUrl", "notifications").Return(nil).Once()
	client.On("SendMessage", queueURL, `{"a":1}`).Return(nil).Twice()

	a := sqs.NewAdapter(client, queueConfig.QueueConfig{QueueName: "notifications"}, "notifications")
	require.NoError(t, a.Publish(context.Background(), []byte(`{"a":1}`)))
	require.NoError(t, a.Publish(context.Background(), []byte(`{"a":1}`)))
	client.AssertExpectations(t)
}

func TestPublishRetriesFailedQueueLookup(t *testing.T) {
	client := new(mockSQS)
	client.On("GetQueueUrl", "notifications").Return(errors.New("dial tcp 127.0.0.1:4566: i/o timeout")).Once()
	client.On("GetQueueUrl", "notifications").Return(nil).Once()
	client.On("SendMessage", queueURL, `{"a":1}`).Return(nil).Once()

	a := sqs.NewAdapter(client, queueConfig.QueueConfig{QueueName: "notifications"}, "notifications")
	assert.Error(t, a.Publish(context.Background(), []byte(`{"a":1}`)))
	require.NoError(t, a.Publish(context.Background(), []byte(`{"a":1}`)))
	client.AssertExpectations(t)
}

func TestPublishWithoutQueue(t *testing.T) {
	a := sqs.NewAdapter(new(mockSQS), queueConfig.QueueConfig{}, "notifications")
	assert.Error(t, a.Publish(context.Background(), []byte("x")))
}
