package orders

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-checkout/internal/cart"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/ariefcatur/go-storefront-checkout/internal/logx"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, o *Order, purchased []cart.Key) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (Order, error)
	GetForUser(ctx context.Context, id, userID string) (Order, error)
	ListByUser(ctx context.Context, userID string, page, limit int) ([]Order, int, error)
	Status(ctx context.Context, id string) (StatusView, error)
	Transition(ctx context.Context, req TransitionRequest) (before, after Order, err error)
}

type ProductReader interface {
	GetMany(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

// Cache is optional; any error from it is treated as a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type Service struct {
	Store    Store
	Catalog  ProductReader
	Cache    Cache
	Events   Publisher
	Pricing  config.Pricing
	Producer string
	Now      func() time.Time
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
	MaxPage         = 1_000_000
)

type PlaceInput struct {
	UserID         string
	IdempotencyKey string
	Items          []Line
	Shipping       Address
	Billing        *Address
	ClientTotal    decimal.Decimal
	PaymentMethod  PaymentMethod
	PointsUsed     int64
}

// Place prices the lines on the server, checks the client total and stores
// the order. created is false when an earlier order with the same
// idempotency key is returned instead.
func (s *Service) Place(ctx context.Context, in PlaceInput) (o Order, created bool, err error) {
	if !in.PaymentMethod.Valid() {
		return Order{}, false, ErrInvalidMethod
	}
	if in.IdempotencyKey != "" {
		o, err := s.existing(ctx, in.UserID, in.IdempotencyKey)
		if err == nil {
			return o, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Order{}, false, err
		}
	}

	// Products come back keyed by the canonical lower-case id.
	lines := make([]Line, len(in.Items))
	for i, l := range in.Items {
		l.ProductID = strings.ToLower(l.ProductID)
		lines[i] = l
	}
	in.Items = lines

	seen := map[string]bool{}
	ids := make([]string, 0, len(in.Items))
	for _, l := range in.Items {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	products, err := s.Catalog.GetMany(ctx, ids)
	if err != nil {
		return Order{}, false, err
	}
	q, err := Price(s.Pricing, products, in.Items, in.PointsUsed)
	if err != nil {
		return Order{}, false, err
	}
	if err := CheckTotal(in.ClientTotal, q, s.Pricing.TotalTolerance); err != nil {
		return Order{}, false, err
	}

	billing := in.Shipping
	if in.Billing != nil {
		billing = *in.Billing
	}
	o = Order{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Items:             q.Items,
		ShippingAddress:   in.Shipping,
		BillingAddress:    billing,
		Totals:            q.Totals,
		PaymentMethod:     in.PaymentMethod,
		PaymentStatus:     PaymentPending,
		OrderStatus:       StatusPending,
		PointsEarned:      q.PointsEarned,
		PointsUsed:        q.PointsUsed,
		EstimatedDelivery: s.now().AddDate(0, 0, s.Pricing.DeliveryDays),
		IdempotencyKey:    in.IdempotencyKey,
	}
	if o.PaymentMethod == MethodWallet {
		o.PaymentStatus = PaymentPaid
		o.OrderStatus = StatusConfirmed
	}

	purchased := make([]cart.Key, 0, len(in.Items))
	for _, l := range in.Items {
		purchased = append(purchased, cart.Key{ProductID: l.ProductID, Size: l.Size, Color: l.Color})
	}

	err = s.Store.Create(ctx, &o, purchased)
	if errors.Is(err, ErrDuplicateOrder) {
		prev, err := s.Store.FindByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		return prev, false, err
	}
	if err != nil {
		return Order{}, false, err
	}

	if o.IdempotencyKey != "" {
		s.cacheSet(ctx, redisx.IdemOrderCreate(o.UserID, o.IdempotencyKey), o.ID, redisx.TTLIdempotency)
	}
	s.cacheStatus(ctx, StatusView{OrderID: o.ID, UserID: o.UserID, Status: o.OrderStatus,
		PaymentStatus: o.PaymentStatus, UpdatedAt: o.UpdatedAt})
	s.emit(ctx, EventOrderPlaced, o.ID, placedPayload(o))

	logx.From(ctx).Info("order placed",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
		zap.String("total", o.Total.String()),
		zap.String("payment_method", string(o.PaymentMethod)),
	)
	return o, true, nil
}

func (s *Service) existing(ctx context.Context, userID, key string) (Order, error) {
	if s.Cache != nil {
		if id, err := s.Cache.Get(ctx, redisx.IdemOrderCreate(userID, key)); err == nil && id != "" {
			if o, err := s.Store.GetForUser(ctx, id, userID); err == nil {
				return o, nil
			}
		}
	}
	return s.Store.FindByIdempotencyKey(ctx, userID, key)
}

func (s *Service) Get(ctx context.Context, userID, id string) (Order, error) {
	return s.Store.GetForUser(ctx, id, userID)
}

// List returns a page of the user's orders, newest first. Out of range
// paging values fall back to the defaults.
func (s *Service) List(ctx context.Context, userID string, page, limit int) (Page, error) {
	page = min(max(page, 1), MaxPage)
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	list, total, err := s.Store.ListByUser(ctx, userID, page, limit)
	if err != nil {
		return Page{}, err
	}
	pages := (total + limit - 1) / limit
	return Page{Orders: list, CurrentPage: page, TotalPages: pages, HasMore: page < pages}, nil
}

type cachedStatus struct {
	OrderID       string        `json:"orderId"`
	UserID        string        `json:"userId"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Status serves the status pair from cache when possible.
func (s *Service) Status(ctx context.Context, userID, id string) (StatusView, error) {
	if s.Cache != nil {
		if raw, err := s.Cache.Get(ctx, redisx.OrderStatus(id)); err == nil {
			var c cachedStatus
			if json.Unmarshal([]byte(raw), &c) == nil && c.OrderID == id {
				if c.UserID != userID {
					return StatusView{}, ErrNotFound
				}
				return StatusView(c), nil
			}
		}
	}
	v, err := s.Store.Status(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if v.UserID != userID {
		return StatusView{}, ErrNotFound
	}
	s.cacheStatus(ctx, v)
	return v, nil
}

func (s *Service) Cancel(ctx context.Context, userID, id string) (Order, error) {
	return s.transition(ctx, TransitionRequest{OrderID: id, UserID: userID, To: StatusCancelled})
}

// Return accepts a delivered order back.
func (s *Service) Return(ctx context.Context, userID, id string) (Order, error) {
	return s.transition(ctx, TransitionRequest{OrderID: id, UserID: userID, To: StatusReturned})
}

// SetStatus is the admin transition. Shipping without a tracking number gets
// a generated one.
func (s *Service) SetStatus(ctx context.Context, id string, to Status, tracking string) (Order, error) {
	if !to.Valid() {
		return Order{}, ErrInvalidStatus
	}
	if to == StatusShipped && tracking == "" {
		tracking = NewTrackingNumber()
	}
	return s.transition(ctx, TransitionRequest{OrderID: id, To: to, TrackingNumber: tracking})
}

func NewTrackingNumber() string { return "TRK" + ulid.Make().String() }

func (s *Service) transition(ctx context.Context, req TransitionRequest) (Order, error) {
	before, after, err := s.Store.Transition(ctx, req)
	if err != nil {
		return Order{}, err
	}
	s.Invalidate(ctx, after.ID)

	eventType := EventOrderStatusChanged
	if after.OrderStatus == StatusCancelled {
		eventType = EventOrderCancelled
	}
	s.emit(ctx, eventType, after.ID, StatusChangedPayload{
		OrderID:       after.ID,
		UserID:        after.UserID,
		From:          before.OrderStatus,
		To:            after.OrderStatus,
		PaymentMethod: after.PaymentMethod,
		PaymentStatus: after.PaymentStatus,
		PointsEarned:  after.PointsEarned,
	})
	logx.From(ctx).Info("order status changed",
		zap.String("order_id", after.ID),
		zap.String("from", string(before.OrderStatus)),
		zap.String("to", string(after.OrderStatus)),
	)
	return after, nil
}

// Invalidate drops the cached status of an order.
func (s *Service) Invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Del(ctx, redisx.OrderStatus(orderID)); err != nil {
		logx.From(ctx).Warn("status cache invalidate", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) cacheStatus(ctx context.Context, v StatusView) {
	b, err := json.Marshal(cachedStatus(v))
	if err != nil {
		return
	}
	s.cacheSet(ctx, redisx.OrderStatus(v.OrderID), string(b), redisx.TTLStatusCache)
}

func (s *Service) cacheSet(ctx context.Context, key, value string, ttl time.Duration) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, key, value, ttl); err != nil {
		logx.From(ctx).Warn("cache set", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) emit(ctx context.Context, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := NewEnvelope(eventType, s.Producer, logx.TraceID(ctx), orderID, payload)
	if err != nil {
		logx.From(ctx).Error("build event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	Emit(s.Events, env)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
