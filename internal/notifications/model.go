package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxNotifications caps the list held for the presentation layer.
const MaxNotifications = 10

const (
	EventNewNotification = "new_notification"
	TypeLowStock         = "low-stock"
)

type Notification struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
	Data      *Data     `json:"data"`
}

// Data carries the navigation context of a notification.
type Data struct {
	RelatedTask    Ref `json:"relatedTask,omitempty"`
	RelatedInvoice Ref `json:"relatedInvoice,omitempty"`
	SiteID         Ref `json:"siteId,omitempty"`
}

// Ref is an entity reference. The API sends either a bare id or a populated
// object carrying "_id" or "id"; both decode to the id.
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(strings.TrimSpace(s))
		return nil
	case '{':
		var obj struct {
			MongoID string `json:"_id"`
			ID      string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.MongoID != "" {
			*r = Ref(obj.MongoID)
		} else {
			*r = Ref(obj.ID)
		}
		return nil
	default:
		return fmt.Errorf("unsupported reference %s", string(b))
	}
}

func (r Ref) Present() bool {
	return strings.TrimSpace(string(r)) != ""
}

type listResponse struct {
	Data []Notification `json:"data"`
}

// Snapshot is a point-in-time copy of the engine state.
type Snapshot struct {
	PrincipalID string
	Items       []Notification
	Unread      int
}

func (s Snapshot) Contains(id string) bool {
	for _, n := range s.Items {
		if n.ID == id {
			return true
		}
	}
	return false
}

func cloneNotifications(in []Notification) []Notification {
	if len(in) == 0 {
		return []Notification{}
	}
	return append([]Notification(nil), in...)
}
