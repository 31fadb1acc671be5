package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"

	"github.com/aurorabench/converge-backend/internal/model"
)

// widgetMessage is the enriched payload the external agent bridge expects
// for every customer/AI message.
type widgetMessage struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	ClientID       string   `json:"client_id"`
	Content        string   `json:"content"`
	SenderType     string   `json:"sender_type"`
	CreatedAt      string   `json:"created_at"`
	Sources        []string `json:"sources,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Takeover       bool     `json:"takeover"`
	CustomerEmail  string   `json:"email,omitempty"`
}

type agentAssignedPayload struct {
	AgentEmail    string `json:"agentEmail"`
	AgentName     string `json:"agentName"`
	RoomID        string `json:"roomId"`
	ClientID      string `json:"clientId"`
	CustomerEmail string `json:"customerEmail"`
}

// PubSubBridge mirrors conversation traffic to an external agent backend
// over Google Cloud Pub/Sub, and relays inbound events back into the Hub.
// It implements conversation.Bridge.
type PubSubBridge struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	hub     *Hub
	inbound InboundHandler
}

// InboundHandler processes a widget_message_received/agent_assigned event
// coming back from the external agent backend. The Conversation Core
// implements this to persist and fan out the mirrored event.
type InboundHandler interface {
	HandleAgentMessage(ctx context.Context, tenant, roomID, agentID, content string) error
	HandleAgentAssigned(ctx context.Context, tenant, roomID, agentEmail, agentName string) error
}

// NewPubSubBridge creates a bridge publishing to topicID in projectID.
func NewPubSubBridge(ctx context.Context, projectID string, client *pubsub.Client, topicID string, hub *Hub) *PubSubBridge {
	return &PubSubBridge{client: client, topic: client.Topic(topicID), hub: hub}
}

// SetInboundHandler wires the handler for messages arriving from the
// external agent backend.
func (b *PubSubBridge) SetInboundHandler(h InboundHandler) {
	b.inbound = h
}

// MirrorMessage implements conversation.Bridge: publishes an enriched
// widget_message event for the external agent backend to display.
func (b *PubSubBridge) MirrorMessage(tenant string, room *model.Room, msg model.Message) {
	wm := widgetMessage{
		ID:             msg.MessageID,
		ConversationID: room.RoomID,
		ClientID:       tenant,
		Content:        msg.Content,
		SenderType:     string(msg.SenderType),
		CreatedAt:      msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Takeover:       room.Takeover,
	}
	if room.CustomerEmail != nil {
		wm.CustomerEmail = *room.CustomerEmail
	}
	if msg.Metadata != nil {
		wm.Sources = msg.Metadata.Sources
		wm.Confidence = msg.Metadata.Confidence
	}
	b.publish("widget_message", wm)
}

// NotifyAgentAssigned implements conversation.Bridge.
func (b *PubSubBridge) NotifyAgentAssigned(tenant string, room *model.Room, agent model.Agent) {
	payload := agentAssignedPayload{
		AgentEmail: agent.Email,
		AgentName:  agent.Name,
		RoomID:     room.RoomID,
		ClientID:   tenant,
	}
	if room.CustomerEmail != nil {
		payload.CustomerEmail = *room.CustomerEmail
	}
	b.publish("agent_assigned", payload)
}

func (b *PubSubBridge) publish(eventType string, data any) {
	body, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		slog.Error("realtime: marshal bridge event failed", "error", err)
		return
	}
	ctx := context.Background()
	result := b.topic.Publish(ctx, &pubsub.Message{Data: body, Attributes: map[string]string{"type": eventType}})
	go func() {
		if _, err := result.Get(ctx); err != nil {
			slog.Warn("realtime: bridge publish failed", "type", eventType, "error", err)
		}
	}()
}

// inboundEvent is the shape of a widget_message_received/agent_assigned
// event arriving from the external agent backend.
type inboundEvent struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId"`
	RoomID   string          `json:"roomId"`
	AgentID  string          `json:"agentId"`
	Content  string          `json:"content"`
	Email    string          `json:"agentEmail"`
	Name     string          `json:"agentName"`
	Raw      json.RawMessage `json:"-"`
}

// Listen runs the subscription receive loop until ctx is canceled,
// dispatching inbound events to the registered handler.
func (b *PubSubBridge) Listen(ctx context.Context, subID string) error {
	if b.inbound == nil {
		return fmt.Errorf("realtime.PubSubBridge.Listen: no inbound handler registered")
	}
	sub := b.client.Subscription(subID)
	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var ev inboundEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("realtime: bridge decode failed", "error", err)
			msg.Nack()
			return
		}
		var handleErr error
		switch ev.Type {
		case "widget_message_received":
			handleErr = b.inbound.HandleAgentMessage(ctx, ev.TenantID, ev.RoomID, ev.AgentID, ev.Content)
		case "agent_assigned":
			handleErr = b.inbound.HandleAgentAssigned(ctx, ev.TenantID, ev.RoomID, ev.Email, ev.Name)
		}
		if handleErr != nil {
			slog.Warn("realtime: bridge inbound handling failed", "type", ev.Type, "error", handleErr)
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("realtime.PubSubBridge.Listen: %w", err)
	}
	return nil
}
