package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent placement: idem:order:create:{user_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Status cache: order_status:{order_id} -> {"orderId","userId","status","paymentStatus","updatedAt"}
	KeyOrderStatus = "order_status:%s"

	// Dedup: dedup:{service}:{id} (id = event id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdemOrderCreate(userID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, userID, key)
}

func OrderStatus(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func Dedup(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
