package infrastructure

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/draftea/saga-system/shared/events"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// SNSAPI is the subset of the SNS client used by the event log
type SNSAPI interface {
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
}

// SQSAPI is the subset of the SQS client used by the event log
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const (
	attrEventType = "eventType"
	attrTimestamp = "timestamp"

	// SQS caps a single receive at 10 messages
	maxReceiveBatch = 10
)

var (
	_ events.EventLog = (*SNSSQSEventLog)(nil)

	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// SNSSQSEventLog maps each topic to an SNS topic and each consumer group to
// one SQS queue per topic subscribed with raw delivery. Entry ids are receipt
// handles, acks delete the message, and redelivery follows the queue's
// visibility timeout.
type SNSSQSEventLog struct {
	sns               SNSAPI
	sqs               SQSAPI
	prefix            string
	visibilityTimeout int32

	mu        sync.Mutex
	topicArns map[events.Topic]string
	queueURLs map[string]string
}

// NewSNSSQSEventLog creates the log. prefix namespaces every topic and queue name.
func NewSNSSQSEventLog(snsClient SNSAPI, sqsClient SQSAPI, prefix string, visibilityTimeout time.Duration) *SNSSQSEventLog {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &SNSSQSEventLog{
		sns:               snsClient,
		sqs:               sqsClient,
		prefix:            prefix,
		visibilityTimeout: int32(visibilityTimeout / time.Second),
		topicArns:         make(map[events.Topic]string),
		queueURLs:         make(map[string]string),
	}
}

func (l *SNSSQSEventLog) resourceName(parts ...string) string {
	name := l.prefix
	for _, p := range parts {
		if name != "" {
			name += "-"
		}
		name += p
	}
	return invalidNameChars.ReplaceAllString(name, "-")
}

func queueKey(topic events.Topic, group string) string {
	return group + "|" + topic.String()
}

func (l *SNSSQSEventLog) topicArn(ctx context.Context, topic events.Topic) (string, error) {
	l.mu.Lock()
	arn, ok := l.topicArns[topic]
	l.mu.Unlock()
	if ok {
		return arn, nil
	}

	out, err := l.sns.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(l.resourceName(topic.String()))})
	if err != nil {
		return "", errors.Wrapf(err, "failed to create SNS topic for %s", topic)
	}

	l.mu.Lock()
	l.topicArns[topic] = aws.ToString(out.TopicArn)
	l.mu.Unlock()
	return aws.ToString(out.TopicArn), nil
}

// Append publishes the serialized envelope to the topic's SNS topic
func (l *SNSSQSEventLog) Append(ctx context.Context, topic events.Topic, entry events.LogEntry) (string, error) {
	arn, err := l.topicArn(ctx, topic)
	if err != nil {
		return "", err
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	out, err := l.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Message:  aws.String(string(entry.Data)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			attrEventType: {DataType: aws.String("String"), StringValue: aws.String(entry.EventType)},
			attrTimestamp: {DataType: aws.String("String"), StringValue: aws.String(ts.UTC().Format(time.RFC3339Nano))},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to publish %s to %s", entry.EventType, topic)
	}
	return aws.ToString(out.MessageId), nil
}

// EnsureGroup creates the group's queue for the topic and subscribes it
func (l *SNSSQSEventLog) EnsureGroup(ctx context.Context, topic events.Topic, group string) error {
	_, err := l.queueURL(ctx, topic, group)
	return err
}

func (l *SNSSQSEventLog) queueURL(ctx context.Context, topic events.Topic, group string) (string, error) {
	key := queueKey(topic, group)
	l.mu.Lock()
	url, ok := l.queueURLs[key]
	l.mu.Unlock()
	if ok {
		return url, nil
	}

	arn, err := l.topicArn(ctx, topic)
	if err != nil {
		return "", err
	}

	queue, err := l.sqs.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(l.resourceName(group, topic.String())),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(l.visibilityTimeout)),
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to create queue for group %s on %s", group, topic)
	}

	attrs, err := l.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       queue.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to read queue arn")
	}

	queueArn := attrs.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]

	policy, err := snsDeliveryPolicy(queueArn, arn)
	if err != nil {
		return "", err
	}
	_, err = l.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: queue.QueueUrl,
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNamePolicy): policy,
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to allow %s to deliver to group %s", topic, group)
	}

	_, err = l.sns.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(arn),
		Protocol: aws.String("sqs"),
		Endpoint: aws.String(queueArn),
		Attributes: map[string]string{
			"RawMessageDelivery": "true",
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to subscribe group %s to %s", group, topic)
	}

	url = aws.ToString(queue.QueueUrl)
	l.mu.Lock()
	l.queueURLs[key] = url
	l.mu.Unlock()
	return url, nil
}

type queuePolicy struct {
	Version   string                 `json:"Version"`
	Statement []queuePolicyStatement `json:"Statement"`
}

type queuePolicyStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

// snsDeliveryPolicy lets only the given topic send to the queue. SNS drops
// deliveries to queues without it.
func snsDeliveryPolicy(queueArn, topicArn string) (string, error) {
	raw, err := json.Marshal(queuePolicy{
		Version: "2012-10-17",
		Statement: []queuePolicyStatement{{
			Sid:       "AllowTopicDelivery",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "sns.amazonaws.com"},
			Action:    "sqs:SendMessage",
			Resource:  queueArn,
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": topicArn},
			},
		}},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode queue policy")
	}
	return string(raw), nil
}

// ReadGroup receives from every topic queue of the group. When nothing is
// available it waits up to block before returning empty.
func (l *SNSSQSEventLog) ReadGroup(ctx context.Context, group, _ string, topics []events.Topic, count int64, block time.Duration) ([]events.LogEntry, error) {
	if count <= 0 || count > maxReceiveBatch {
		count = maxReceiveBatch
	}

	batches := make([][]events.LogEntry, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range topics {
		i, topic := i, topic
		g.Go(func() error {
			entries, err := l.receive(gctx, topic, group, int32(count))
			batches[i] = entries
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []events.LogEntry
	for _, batch := range batches {
		entries = append(entries, batch...)
	}

	if len(entries) == 0 && block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return entries, nil
}

func (l *SNSSQSEventLog) receive(ctx context.Context, topic events.Topic, group string, count int32) ([]events.LogEntry, error) {
	url, err := l.queueURL(ctx, topic, group)
	if err != nil {
		return nil, err
	}

	out, err := l.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(url),
		MaxNumberOfMessages:         count,
		VisibilityTimeout:           l.visibilityTimeout,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		MessageAttributeNames:       []string{"All"},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to receive from %s", topic)
	}

	entries := make([]events.LogEntry, 0, len(out.Messages))
	for _, msg := range out.Messages {
		entries = append(entries, fromSQSMessage(topic, msg))
	}
	return entries, nil
}

func fromSQSMessage(topic events.Topic, msg sqstypes.Message) events.LogEntry {
	entry := events.LogEntry{
		ID:         aws.ToString(msg.ReceiptHandle),
		Topic:      topic,
		Data:       []byte(aws.ToString(msg.Body)),
		Deliveries: 1,
	}
	if attr, ok := msg.MessageAttributes[attrEventType]; ok {
		entry.EventType = aws.ToString(attr.StringValue)
	}
	if attr, ok := msg.MessageAttributes[attrTimestamp]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, aws.ToString(attr.StringValue)); err == nil {
			entry.Timestamp = ts
		}
	}
	if n, err := strconv.ParseInt(msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)], 10, 64); err == nil {
		entry.Deliveries = n
	}
	return entry
}

// ClaimStale is a no-op: SQS makes unacknowledged messages visible again on its own
func (l *SNSSQSEventLog) ClaimStale(context.Context, events.Topic, string, string, time.Duration, int64) ([]events.LogEntry, error) {
	return nil, nil
}

// Ack deletes the messages identified by their receipt handles
func (l *SNSSQSEventLog) Ack(ctx context.Context, topic events.Topic, group string, ids ...string) error {
	url, err := l.queueURL(ctx, topic, group)
	if err != nil {
		return err
	}
	for _, id := range ids {
		_, err := l.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(url),
			ReceiptHandle: aws.String(id),
		})
		if err != nil {
			return errors.Wrapf(err, "failed to delete message from %s", topic)
		}
	}
	return nil
}

type deadLetterRecord struct {
	Topic      string          `json:"topic"`
	Group      string          `json:"group"`
	Reason     string          `json:"reason"`
	Deliveries int64           `json:"deliveries"`
	EventType  string          `json:"eventType"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// DeadLetter publishes the entry to the topic's dead letter SNS topic
func (l *SNSSQSEventLog) DeadLetter(ctx context.Context, entry events.LogEntry, group, reason string) error {
	record := deadLetterRecord{
		Topic:      entry.Topic.String(),
		Group:      group,
		Reason:     reason,
		Deliveries: entry.Deliveries,
		EventType:  entry.EventType,
	}
	if json.Valid(entry.Data) {
		record.Data = entry.Data
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal dead letter")
	}

	_, err = l.Append(ctx, entry.Topic.DeadLetter(), events.LogEntry{
		EventType: entry.EventType,
		Data:      raw,
		Timestamp: time.Now(),
	})
	return err
}
