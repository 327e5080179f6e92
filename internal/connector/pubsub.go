package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"google.golang.org/api/option"

	"github.com/joluben/sigsim/internal/domain"
)

// PubSubConnector publishes payloads to a cloud messaging topic. The
// provider-specific session handling lives behind a small internal
// interface; the connector itself only frames and dispatches.
type PubSubConnector struct {
	id        string
	cfg       PubSubConfig
	provider  pubsubProvider
	connected atomic.Bool
}

type pubsubProvider interface {
	connect(ctx context.Context) error
	publish(ctx context.Context, data []byte) error
	close(ctx context.Context) error
}

// NewPubSub validates the target config and builds the provider-specific
// publisher.
func NewPubSub(deviceID string, raw map[string]any) (*PubSubConnector, error) {
	var cfg PubSubConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}

	var provider pubsubProvider
	switch cfg.Provider {
	case domain.PubSubProviderGCP:
		projectID := cfg.credential("project_id")
		if projectID == "" {
			return nil, fmt.Errorf("%w: gcp pubsub requires credentials.project_id", domain.ErrConfigInvalid)
		}
		provider = &gcpPublisher{
			projectID: projectID,
			topicID:   cfg.Topic,
			credsJSON: cfg.credential("service_account_json"),
		}
	case domain.PubSubProviderAWS:
		provider = &awsPublisher{
			region:    cfg.credential("region"),
			accessKey: cfg.credential("access_key_id"),
			secretKey: cfg.credential("secret_access_key"),
			topicARN:  cfg.credential("topic_arn"),
			topic:     cfg.Topic,
		}
	case domain.PubSubProviderAzure:
		connStr := cfg.credential("connection_string")
		if connStr == "" {
			return nil, fmt.Errorf("%w: azure service bus requires credentials.connection_string", domain.ErrConfigInvalid)
		}
		provider = &azurePublisher{connStr: connStr, topic: cfg.Topic}
	default:
		return nil, fmt.Errorf("%w: unsupported pubsub provider %q", domain.ErrConfigInvalid, cfg.Provider)
	}

	return &PubSubConnector{
		id:       deviceID + "_" + domain.TargetKindPubSub,
		cfg:      cfg,
		provider: provider,
	}, nil
}

func (c *PubSubConnector) ID() string   { return c.id }
func (c *PubSubConnector) Kind() string { return domain.TargetKindPubSub }

// Connect builds the provider session. Idempotent on a live session.
func (c *PubSubConnector) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	if err := c.provider.connect(ctx); err != nil {
		return fmt.Errorf("%w: %s pubsub: %v", domain.ErrConnectionFailed, c.cfg.Provider, err)
	}
	c.connected.Store(true)
	return nil
}

// Send publishes one payload and waits for the provider acknowledgement.
func (c *PubSubConnector) Send(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrSendFailed, err)
	}
	if err := c.provider.publish(ctx, data); err != nil {
		return fmt.Errorf("%w: %s publish %s: %v", domain.ErrSendFailed, c.cfg.Provider, c.cfg.Topic, err)
	}
	return nil
}

// Disconnect releases the provider session, ignoring teardown errors.
func (c *PubSubConnector) Disconnect(ctx context.Context) error {
	c.connected.Store(false)
	return c.provider.close(ctx)
}

func (c *PubSubConnector) Connected() bool { return c.connected.Load() }

type gcpPublisher struct {
	projectID string
	topicID   string
	credsJSON string

	client *pubsub.Client
	topic  *pubsub.Topic
}

func (p *gcpPublisher) connect(ctx context.Context) error {
	var opts []option.ClientOption
	if p.credsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(p.credsJSON)))
	}

	client, err := pubsub.NewClient(ctx, p.projectID, opts...)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	p.client = client
	p.topic = client.Topic(p.topicID)
	return nil
}

func (p *gcpPublisher) publish(ctx context.Context, data []byte) error {
	res := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := res.Get(ctx); err != nil {
		return err
	}
	return nil
}

func (p *gcpPublisher) close(_ context.Context) error {
	if p.topic != nil {
		p.topic.Stop()
		p.topic = nil
	}
	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		return err
	}
	return nil
}

type awsPublisher struct {
	region    string
	accessKey string
	secretKey string
	topicARN  string
	topic     string

	svc *sns.SNS
}

func (p *awsPublisher) connect(ctx context.Context) error {
	cfg := aws.NewConfig()
	if p.region != "" {
		cfg = cfg.WithRegion(p.region)
	} else {
		cfg = cfg.WithRegion("us-east-1")
	}
	if p.accessKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(p.accessKey, p.secretKey, ""))
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	p.svc = sns.New(sess)

	if p.topicARN == "" {
		arn, err := p.resolveTopicARN(ctx)
		if err != nil {
			return err
		}
		p.topicARN = arn
	}
	return nil
}

// resolveTopicARN scans the account's topics for one whose ARN ends in
// the configured topic name.
func (p *awsPublisher) resolveTopicARN(ctx context.Context) (string, error) {
	input := &sns.ListTopicsInput{}
	for {
		out, err := p.svc.ListTopicsWithContext(ctx, input)
		if err != nil {
			return "", fmt.Errorf("list topics: %w", err)
		}
		for _, t := range out.Topics {
			if t.TopicArn != nil && strings.HasSuffix(*t.TopicArn, ":"+p.topic) {
				return *t.TopicArn, nil
			}
		}
		if out.NextToken == nil {
			return "", fmt.Errorf("topic %q not found", p.topic)
		}
		input.NextToken = out.NextToken
	}
}

func (p *awsPublisher) publish(ctx context.Context, data []byte) error {
	out, err := p.svc.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(data)),
	})
	if err != nil {
		return err
	}
	if out.MessageId == nil {
		return fmt.Errorf("publish not acknowledged")
	}
	return nil
}

func (p *awsPublisher) close(_ context.Context) error {
	p.svc = nil
	return nil
}

type azurePublisher struct {
	connStr string
	topic   string

	client *azservicebus.Client
	sender *azservicebus.Sender
}

func (p *azurePublisher) connect(_ context.Context) error {
	client, err := azservicebus.NewClientFromConnectionString(p.connStr, nil)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	sender, err := client.NewSender(p.topic, nil)
	if err != nil {
		_ = client.Close(context.Background())
		return fmt.Errorf("new sender: %w", err)
	}
	p.client = client
	p.sender = sender
	return nil
}

func (p *azurePublisher) publish(ctx context.Context, data []byte) error {
	return p.sender.SendMessage(ctx, &azservicebus.Message{Body: data}, nil)
}

func (p *azurePublisher) close(ctx context.Context) error {
	if p.sender != nil {
		_ = p.sender.Close(ctx)
		p.sender = nil
	}
	if p.client != nil {
		_ = p.client.Close(ctx)
		p.client = nil
	}
	return nil
}
