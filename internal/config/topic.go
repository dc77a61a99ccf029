package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TopicPath returns the location of the persisted ntfy subscription topic.
func TopicPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "bullhorn", "topic"), nil
}

// LoadOrCreateTopic returns the persisted ntfy subscription topic, generating
// and persisting a fresh one on first run. The topic doubles as the
// subscription secret, so it is stored with owner-only permissions.
func LoadOrCreateTopic() (string, error) {
	path, err := TopicPath()
	if err != nil {
		return "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		topic := strings.TrimSpace(string(data))
		if _, err := uuid.Parse(topic); err == nil {
			return topic, nil
		}
		// Unparseable topic file: fall through and regenerate.
	}
	return RotateTopic()
}

// RotateTopic generates a new subscription topic and persists it, replacing
// any previous one. Existing subscribers stop receiving notifications.
func RotateTopic() (string, error) {
	path, err := TopicPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	topic := uuid.NewString()
	if err := os.WriteFile(path, []byte(topic+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing topic file: %w", err)
	}
	return topic, nil
}
