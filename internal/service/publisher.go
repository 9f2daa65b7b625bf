package service

import (
	"context"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
)

// EventPublisher is the part of broker.EventPublisher the services use
type EventPublisher interface {
	PublishCheckoutReserved(ctx context.Context, event *models.CheckoutReservedEvent) error
	PublishPaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error
	PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error
	PublishNotification(ctx context.Context, event *models.NotificationEvent) error
}

func newEventID() string {
	return uuid.New().String()
}

func checkoutReservedEvent(kind string, orderID, userID, total int64, method string) *models.CheckoutReservedEvent {
	return &models.CheckoutReservedEvent{
		BaseEvent:     models.NewBaseEvent(newEventID(), models.EventTypeCheckoutReserved),
		Kind:          kind,
		OrderID:       orderID,
		UserID:        userID,
		TotalAmount:   total,
		PaymentMethod: method,
	}
}

func orderFinalizedEvent(kind string, orderID int64, status, reason string) *models.OrderFinalizedEvent {
	return &models.OrderFinalizedEvent{
		BaseEvent:   models.NewBaseEvent(newEventID(), models.EventTypeOrderFinalized),
		Kind:        kind,
		OrderID:     orderID,
		FinalStatus: status,
		Reason:      reason,
	}
}

func statusChangedEvent(entity string, id, shopID int64, from, to string) *models.StatusChangedEvent {
	return &models.StatusChangedEvent{
		BaseEvent: models.NewBaseEvent(newEventID(), models.EventTypeStatusChanged),
		Entity:    entity,
		ID:        id,
		ShopID:    shopID,
		From:      from,
		To:        to,
	}
}

func notificationEvent(template, email, category string, data map[string]string) *models.NotificationEvent {
	return &models.NotificationEvent{
		BaseEvent: models.NewBaseEvent(newEventID(), models.EventTypeNotification),
		Template:  template,
		Email:     email,
		Category:  category,
		Data:      data,
	}
}

// loadOwnedShop returns the shop when userID owns it
func loadOwnedShop(ctx context.Context, st *store.Store, shopID, userID int64) (*models.Shop, error) {
	shop, err := st.GetShop(ctx, shopID)
	if err != nil {
		return nil, storeErr(err, MsgShopNotFound)
	}
	if shop.OwnerID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}
	return shop, nil
}
