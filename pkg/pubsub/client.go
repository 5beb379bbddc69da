package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("pubsub: gcp project id is required")
	errNotInitialized    = errors.New("pubsub: client not initialized")
)

// Client wraps a Pub/Sub v2 client scoped to one project. Publishers are
// created once per topic and stopped on Close.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and fails fast when the domain topic or a configured
// subscription is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: connect: %w", err)
	}
	c := &Client{
		client:     raw,
		projectID:  project,
		cfg:        cfg,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":   project,
			"domain_topic": cfg.DomainTopic,
		}), "pubsub client initialized")
	}
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	creds := strings.TrimSpace(gcp.CredentialsJSON)
	if creds == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
}

// subscriptionNames lists the non-blank subscriptions this deployment reads.
func subscriptionNames(cfg config.PubSubConfig) []string {
	var names []string
	for _, n := range []string{cfg.NotificationSubscription, cfg.LifecycleSubscription} {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Ping checks that the domain topic and every configured subscription exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if topic := c.topicResourceName(c.cfg.DomainTopic); topic != "" {
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic})
		if err := describeLookup("topic", c.cfg.DomainTopic, err); err != nil {
			return err
		}
	}
	for _, name := range subscriptionNames(c.cfg) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: c.subscriptionResourceName(name),
		})
		if err := describeLookup("subscription", name, err); err != nil {
			return err
		}
	}
	return nil
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("pubsub: %s %q does not exist", kind, name)
	default:
		return fmt.Errorf("pubsub: lookup %s %q: %w", kind, name, err)
	}
}

// Subscription returns a subscriber for a subscription ID or full resource name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.subscriptionResourceName(name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// NotificationSubscription feeds the notification dispatcher.
func (c *Client) NotificationSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.NotificationSubscription)
}

// LifecycleSubscription feeds cross-component reactions.
func (c *Client) LifecycleSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.LifecycleSubscription)
}

// Publisher returns the shared publisher for a topic ID or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := c.topicResourceName(name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	if c.publishers == nil {
		c.publishers = map[string]*pubsub.Publisher{}
	}
	p := c.client.Publisher(full)
	c.publishers[full] = p
	return p
}

func (c *Client) DomainPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.DomainTopic)
}

// Close flushes cached publishers, then releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	return c.resourceName("subscriptions", name)
}

func (c *Client) topicResourceName(name string) string {
	return c.resourceName("topics", name)
}

// resourceName qualifies a short ID with the client's project. Names that are
// already fully qualified pass through.
func (c *Client) resourceName(kind, name string) string {
	n := strings.TrimSpace(name)
	if c == nil || n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + kind + "/" + n
}
