package woosync

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tourdesk/backoffice/config"
)

func syncTopic() string {
	if topic := strings.TrimSpace(os.Getenv("WOO_SYNC_TOPIC")); topic != "" {
		return topic
	}
	return "woo-sync"
}

// PublishSyncRun queues a run for the woo-sync-service worker.
func PublishSyncRun(ctx context.Context, runID uint) error {
	_, err := config.PublishJSON(ctx, syncTopic(), SyncPubSubPayload{RunId: runID}, map[string]string{
		"run_id": strconv.FormatUint(uint64(runID), 10),
	})
	return err
}

// PubSubPushHandler always answers 204: a bad message is dropped rather than redelivered forever.
func PubSubPushHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBool("ENABLE_WOO_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if payload.RunId == 0 {
			c.Status(204)
			return
		}

		if err := s.ProcessSyncRun(c.Request.Context(), payload.RunId); err != nil {
			config.LogError(s.logger(), "woosync", "PubSubPushHandler", envelope.Message.ID, payload, err)
		}
		c.Status(204)
	}
}
