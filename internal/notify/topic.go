package notify

import (
	"fmt"
	"strings"
)

// Exchange is the AMQP topic exchange all notifications flow through.
const Exchange = "notifications_topic"

// Topic is a named notification channel. Observers subscribe to `kitchen`
// (broadcast) or `table/{id}` (one table's tracking session).
type Topic string

const (
	// TopicKitchen receives every order event and every request event.
	TopicKitchen Topic = "kitchen"
	// TopicAllTables matches every per-table topic; used by the gateway.
	TopicAllTables Topic = "table/*"
)

// TableTopic is the per-table channel for one table's tracking session.
func TableTopic(tableID int64) Topic {
	return Topic(fmt.Sprintf("table/%d", tableID))
}

// RoutingKey maps a topic name onto an AMQP routing key (slashes become dots).
func (t Topic) RoutingKey() string {
	return strings.ReplaceAll(string(t), "/", ".")
}

// TopicFromRoutingKey is the inverse of RoutingKey.
func TopicFromRoutingKey(key string) Topic {
	return Topic(strings.ReplaceAll(key, ".", "/"))
}
