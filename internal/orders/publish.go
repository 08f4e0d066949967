package orders

import (
	"strconv"

	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	kafkago "github.com/segmentio/kafka-go"
)

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Emit sends env on the order events topic, keyed by its order id.
func Emit(p Publisher, env Envelope) {
	if p == nil {
		return
	}
	p.Publish(PartitionKey(env.CorrelationID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(env.EventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
