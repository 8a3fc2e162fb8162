package transport

import (
	"fmt"
	"strings"
)

func TopicChatInbound(prefix string) string {
	return fmt.Sprintf("%s/chat/+/in", prefix)
}

func TopicChatIn(prefix, userID string) string {
	return fmt.Sprintf("%s/chat/%s/in", prefix, userID)
}

func TopicChatOut(prefix, userID string) string {
	return fmt.Sprintf("%s/chat/%s/out", prefix, userID)
}

func TopicChatImage(prefix, userID string) string {
	return fmt.Sprintf("%s/chat/%s/image", prefix, userID)
}

// expected: {prefix}/chat/{userId}/{kind}
func ParseChatUserID(topic, prefix string) (string, error) {
	parts := strings.Split(topic, "/")
	prefixParts := strings.Split(prefix, "/")
	if len(parts) != len(prefixParts)+3 {
		return "", fmt.Errorf("invalid topic: %s", topic)
	}
	for i, p := range prefixParts {
		if parts[i] != p {
			return "", fmt.Errorf("topic prefix mismatch: %s", topic)
		}
	}
	if parts[len(prefixParts)] != "chat" {
		return "", fmt.Errorf("invalid topic pattern: %s", topic)
	}
	userID := parts[len(prefixParts)+1]
	if userID == "" || userID == "+" {
		return "", fmt.Errorf("invalid user id in topic: %s", topic)
	}
	return userID, nil
}
