package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

var (
	pubsubClient *pubsub.Client
	pubsubMu     sync.Mutex
	// topics already checked or created in this process
	knownTopics = map[string]*pubsub.Topic{}
)

// PubSubProjectID reads PUBSUB_PROJECT_ID, then the Cloud Run defaults.
func PubSubProjectID() string {
	for _, key := range []string{"PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

// pubsubClientLocked must be called with pubsubMu held.
func pubsubClientLocked(ctx context.Context) (*pubsub.Client, error) {
	if pubsubClient != nil {
		return pubsubClient, nil
	}
	projectID := PubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}
	var opts []option.ClientOption
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}
	// the client outlives the request that happened to create it
	c, err := pubsub.NewClient(context.WithoutCancel(ctx), projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
	}
	pubsubClient = c
	return c, nil
}

// PubSubTopic returns a handle on topic. With PUBSUB_CREATE_TOPICS=true a
// missing topic is created on first use, which is what the emulator needs.
func PubSubTopic(ctx context.Context, topic string) (*pubsub.Topic, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	pubsubMu.Lock()
	defer pubsubMu.Unlock()

	if t, ok := knownTopics[topic]; ok {
		return t, nil
	}
	client, err := pubsubClientLocked(ctx)
	if err != nil {
		return nil, err
	}
	t := client.Topic(topic)
	if EnvBool("PUBSUB_CREATE_TOPICS", false) {
		exists, err := t.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			if t, err = client.CreateTopic(ctx, topic); err != nil {
				return nil, fmt.Errorf("create topic %q: %w", topic, err)
			}
		}
	}
	knownTopics[topic] = t
	return t, nil
}

// PublishJSON publishes obj as JSON and waits for the server-assigned message id.
func PublishJSON(ctx context.Context, topic string, obj interface{}, attributes map[string]string) (string, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	t, err := PubSubTopic(ctx, topic)
	if err != nil {
		return "", err
	}
	return t.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes}).Get(ctx)
}

// ClosePubSub flushes pending publishes and drops the shared client.
func ClosePubSub() error {
	pubsubMu.Lock()
	defer pubsubMu.Unlock()
	for name, t := range knownTopics {
		t.Stop()
		delete(knownTopics, name)
	}
	if pubsubClient == nil {
		return nil
	}
	err := pubsubClient.Close()
	pubsubClient = nil
	return err
}
