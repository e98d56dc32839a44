package relay

// Relay methods, served by the relay itself.
const (
	MethodPublish      = "waku_publish"
	MethodSubscribe    = "waku_subscribe"
	MethodUnsubscribe  = "waku_unsubscribe"
	MethodSubscription = "waku_subscription" // pushed by the relay
)

// DefaultTTL is the publish time-to-live, in seconds, used when a caller
// passes zero.
const DefaultTTL int64 = 600

type PublishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Prompt  bool   `json:"prompt,omitempty"`
}

type SubscribeParams struct {
	Topic string `json:"topic"`
}

type UnsubscribeParams struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

// SubscriptionParams is the payload of a relay push: a message published
// on a topic this peer subscribed to.
type SubscriptionParams struct {
	ID   string           `json:"id"`
	Data SubscriptionData `json:"data"`
}

type SubscriptionData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// Subscription is a live registration for delivery on Topic. ID is the
// relay-assigned subscription id.
type Subscription struct {
	Topic string
	ID    string
}
