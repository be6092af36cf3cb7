package booking

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type Charge struct {
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodId string
	Description     string
	ReceiptEmail    string
	IdempotencyKey  string
	Metadata        map[string]string
}

type PaymentResult struct {
	PaymentIntentId string
	Status          string
}

type PaymentGateway interface {
	Charge(ctx context.Context, charge Charge) (PaymentResult, error)
}

// StripeGateway confirms a PaymentIntent in one call. Redirect-based methods
// are refused because the landing page has no return URL.
type StripeGateway struct {
	api *client.API
}

func NewStripeGatewayFromEnv() (*StripeGateway, error) {
	key := strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY"))
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	return NewStripeGateway(key, nil), nil
}

// NewStripeGateway uses the default Stripe backends when backends is nil.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) Charge(ctx context.Context, charge Charge) (PaymentResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(MinorUnits(charge.Amount, charge.Currency)),
		Currency:      stripe.String(strings.ToLower(charge.Currency)),
		PaymentMethod: stripe.String(charge.PaymentMethodId),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String(string(stripe.PaymentIntentAutomaticPaymentMethodsAllowRedirectsNever)),
		},
	}
	if charge.Description != "" {
		params.Description = stripe.String(charge.Description)
	}
	if charge.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(charge.ReceiptEmail)
	}
	for k, v := range charge.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if charge.IdempotencyKey != "" {
		params.SetIdempotencyKey(charge.IdempotencyKey)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			perr := &PaymentError{Status: string(stripe.PaymentIntentStatusRequiresPaymentMethod), Message: stripeErr.Msg}
			if stripeErr.PaymentIntent != nil {
				perr.PaymentIntentId = stripeErr.PaymentIntent.ID
				if stripeErr.PaymentIntent.Status != "" {
					perr.Status = string(stripeErr.PaymentIntent.Status)
				}
			}
			return PaymentResult{PaymentIntentId: perr.PaymentIntentId, Status: perr.Status}, perr
		}
		return PaymentResult{}, err
	}
	return PaymentResult{PaymentIntentId: pi.ID, Status: string(pi.Status)}, nil
}

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// MinorUnits converts amount into the integer Stripe expects for currency.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
