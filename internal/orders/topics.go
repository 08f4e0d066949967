package orders

// TopicOrderEvents carries every order and payment event.
const TopicOrderEvents = "order.events"

// Partition key = order id, so events of one order stay in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
