package service

import (
	"errors"
	"fmt"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/store"
)

// Messages returned to clients. Tests and clients match on them.
const (
	MsgShopNotFound       = "Shop not found"
	MsgProductNotFound    = "Product not found"
	MsgCategoryNotFound   = "Category not found"
	MsgOrderNotFound      = "Order not found"
	MsgPaymentNotFound    = "Payment not found"
	MsgExperienceNotFound = "Experience not found"
	MsgSessionNotFound    = "Session not found"
	MsgTicketNotFound     = "Ticket not found"
	MsgItemNotFound       = "Order item not found"
	MsgNotSubscribed      = "Subscription not found"
	MsgOptOutNotFound     = "Opt-out not found"

	MsgForbidden = "You do not have permission to perform this action"

	MsgOutOfStock              = "The quantity purchased exceeds the available stock"
	MsgPriceChanged            = "The price of the product has changed"
	MsgProductUnavailable      = "The product is not available for purchase"
	MsgParameterSetRequired    = "A parameter set must be selected for this product"
	MsgParameterSetUnavailable = "The selected parameter set is not available"
	MsgNotPublishable          = "The product cannot be published"
	MsgPublishedDelete         = "Published products cannot be deleted"
	MsgProductInStock          = "Product is in stock"
	MsgStockBelowHeld          = "The stock cannot be lower than the quantity held by open checkouts"
	MsgNotInstoreProduct       = "Only in-store products can be cloned"
	MsgInvalidStatusChange     = "The status cannot be changed from %s to %s"
	MsgDuplicateSlug           = "The slug is already in use"

	MsgItemQuantityCap    = "The quantity of an item cannot exceed %d"
	MsgOrderNotInProgress = "The order is not in progress"
	MsgOrderEmpty         = "The order has no items"
	MsgOrderNotCheckedOut = "The order has not been checked out"
	MsgOrderNotPending    = "The order is not pending"
	MsgInvalidPayment     = "The payment method is not supported"

	MsgExperienceUnavailable = "The experience is not available"
	MsgNotPublishableExp     = "An experience needs a ticket and a future session to be published"
	MsgSessionStarted        = "The session has already started"
	MsgInvalidSessionTime    = "The session must end after it starts"
	MsgTicketNotInExperience = "The ticket does not belong to this experience"
	MsgTicketUnavailable     = "The ticket is not available for this session"
	MsgTicketsSoldOut        = "The tickets are sold out"
	MsgTicketLimit           = "At most %d tickets of this type can be bought per order"
	MsgTicketPriceChanged    = "The price of the ticket has changed"
	MsgTotalMismatch         = "The order total does not match"
	MsgIdempotencyKeyTooLong = "The idempotency key must be at most 100 characters"
	MsgNoReservations        = "There are no active reservations for this session"
	MsgTicketAlreadyUsed     = "The ticket has already been used"
	MsgTransferToSelf        = "A ticket cannot be transferred to its owner"
)

// storeErr turns a store not-found into a 404 carrying msg and passes other
// errors through.
func storeErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if store.IsNotFound(err) {
		return apierror.NotFound(msg)
	}
	return err
}

// isAPIError reports whether err already carries an HTTP status
func isAPIError(err error) bool {
	var ae *apierror.Error
	return errors.As(err, &ae)
}

func statusChangeErr(from, to string) error {
	return apierror.BadRequest(fmt.Sprintf(MsgInvalidStatusChange, from, to))
}
