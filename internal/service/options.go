package service

import (
	"time"

	"marketplace-orders/config"
	"marketplace-orders/internal/models"
)

// Options carries the business settings shared by the services.
type Options struct {
	CheckoutLockTTL time.Duration
	PaymentPageURL  string
	PaymentHorizon  time.Duration
	NotifyTimeout   time.Duration
	CancelPolicy    models.CancellationPolicy
}

// OptionsFromConfig maps the business section of the config.
func OptionsFromConfig(b config.BusinessConfig) Options {
	return Options{
		CheckoutLockTTL: b.CheckoutLockTTL,
		PaymentPageURL:  b.PaymentPageURL,
		PaymentHorizon:  b.PaymentHorizon(),
		NotifyTimeout:   b.NotifyTimeout,
		CancelPolicy:    models.NewCancellationPolicy(b.CancelAllowShipped),
	}
}

func (o Options) lockTTL() time.Duration {
	if o.CheckoutLockTTL <= 0 {
		return 10 * time.Second
	}
	return o.CheckoutLockTTL
}

func (o Options) cancelPolicy() models.CancellationPolicy {
	if o.CancelPolicy == nil {
		return models.NewCancellationPolicy(false)
	}
	return o.CancelPolicy
}
