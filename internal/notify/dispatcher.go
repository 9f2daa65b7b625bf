package notify

import (
	"context"
	"errors"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// OptOutChecker reports whether an address declined a category of email
type OptOutChecker interface {
	IsOptedOut(ctx context.Context, email, category string) (bool, error)
}

// Dispatcher turns notification events into sent emails
type Dispatcher struct {
	mailer  Mailer
	optOuts OptOutChecker
	logger  *zap.Logger
}

func NewDispatcher(mailer Mailer, optOuts OptOutChecker) *Dispatcher {
	return &Dispatcher{mailer: mailer, optOuts: optOuts, logger: util.GetLogger()}
}

// HandleNotification renders and sends one email. Opted-out recipients and
// unknown templates are skipped; only delivery errors are returned so the
// message is retried.
func (d *Dispatcher) HandleNotification(ctx context.Context, event *models.NotificationEvent) error {
	optedOut, err := d.optOuts.IsOptedOut(ctx, event.Email, event.Category)
	if err != nil {
		return err
	}
	if optedOut {
		util.NotificationsSentTotal.WithLabelValues(event.Template, "suppressed").Inc()
		d.logger.Info("Recipient opted out, email skipped",
			zap.String("template", event.Template),
			zap.String("category", event.Category))
		return nil
	}

	msg, err := Render(event.Template, event.Email, event.Data)
	if errors.Is(err, ErrUnknownTemplate) {
		util.NotificationsSentTotal.WithLabelValues(event.Template, "unknown_template").Inc()
		d.logger.Error("Dropping notification", zap.String("event_id", event.EventID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	if err := d.mailer.Send(ctx, msg); err != nil {
		util.NotificationsSentTotal.WithLabelValues(event.Template, "failed").Inc()
		return err
	}

	util.NotificationsSentTotal.WithLabelValues(event.Template, "sent").Inc()
	return nil
}
