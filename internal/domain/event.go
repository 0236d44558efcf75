package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7/pkg/notification"
)

// SourceRef names one source object. Labels, when set, restricts processing
// to those renditions; empty means the whole catalog.
type SourceRef struct {
	Location string   `json:"location"`
	Key      string   `json:"key"`
	Labels   []string `json:"labels,omitempty"`
}

func (r SourceRef) String() string {
	return r.Location + "/" + r.Key
}

func (r SourceRef) Validate() error {
	if strings.TrimSpace(r.Location) == "" {
		return errors.New("source location is required")
	}
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("source key is required")
	}
	return nil
}

// TriggerEvent is the ordered batch of source objects one invocation handles.
type TriggerEvent struct {
	Records []SourceRef `json:"records"`
}

func (e TriggerEvent) Validate() error {
	if len(e.Records) == 0 {
		return errors.New("event must contain at least one record")
	}
	for i, rec := range e.Records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("records[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseS3Notification decodes an S3 style bucket notification document into
// a TriggerEvent. Object keys arrive form-encoded and are decoded before use.
// Records whose event name is present but is not an object-created event are
// skipped.
func ParseS3Notification(body []byte) (TriggerEvent, error) {
	var info notification.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return TriggerEvent{}, fmt.Errorf("invalid notification body: %w", err)
	}
	return FromNotification(info)
}

func FromNotification(info notification.Info) (TriggerEvent, error) {
	if info.Err != nil {
		return TriggerEvent{}, fmt.Errorf("notification error: %w", info.Err)
	}

	event := TriggerEvent{Records: make([]SourceRef, 0, len(info.Records))}
	for i, rec := range info.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "s3:ObjectCreated:") && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}
		key, err := DecodeObjectKey(rec.S3.Object.Key)
		if err != nil {
			return TriggerEvent{}, fmt.Errorf("records[%d]: %w", i, err)
		}
		event.Records = append(event.Records, SourceRef{
			Location: rec.S3.Bucket.Name,
			Key:      key,
		})
	}

	if err := event.Validate(); err != nil {
		return TriggerEvent{}, err
	}
	return event, nil
}

// DecodeObjectKey reverses the form encoding S3 applies to keys in event
// notifications ("+" is a space).
func DecodeObjectKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("decode object key %q: %w", raw, err)
	}
	return key, nil
}
