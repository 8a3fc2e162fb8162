package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Hub bridges an MQTT broker to the responder: one inbound chat topic
// per user, replies and images published back on that user's out
// topics.
type Hub struct {
	cfg       HubConfig
	client    paho.Client
	responder *Responder
	logger    *slog.Logger
}

type imagePayload struct {
	RequestID string `json:"request_id"`
	PNGBase64 string `json:"png_base64"`
}

func NewHub(cfg HubConfig, responder *Responder, logger *slog.Logger) *Hub {
	return &Hub{cfg: cfg, responder: responder, logger: logger}
}

func (h *Hub) Start(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	if token := h.client.Subscribe(TopicChatInbound(h.cfg.TopicPrefix), 1, h.handleInbound); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	go func() {
		<-ctx.Done()
		h.client.Disconnect(100)
	}()

	return nil
}

func (h *Hub) handleInbound(_ paho.Client, msg paho.Message) {
	userID, err := ParseChatUserID(msg.Topic(), h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid chat topic", "topic", msg.Topic(), "error", err)
		return
	}

	// Each inbound message runs in its own goroutine; the pipeline's
	// gate bounds how many actually reach the backends at once.
	go func() {
		result := h.responder.Respond(context.Background(), userID, string(msg.Payload()))
		for _, chunk := range result.Replies {
			h.publish(TopicChatOut(h.cfg.TopicPrefix, userID), []byte(chunk))
		}
		if len(result.Image) > 0 {
			body, err := json.Marshal(imagePayload{
				RequestID: uuid.NewString(),
				PNGBase64: base64.StdEncoding.EncodeToString(result.Image),
			})
			if err != nil {
				h.logger.Error("encode image payload failed", "user_id", userID, "error", err)
				return
			}
			h.publish(TopicChatImage(h.cfg.TopicPrefix, userID), body)
		}
	}()
}

func (h *Hub) publish(topic string, body []byte) {
	if token := h.client.Publish(topic, 1, false, body); token.Wait() && token.Error() != nil {
		h.logger.Error("mqtt publish failed", "topic", topic, "error", token.Error())
	}
}
