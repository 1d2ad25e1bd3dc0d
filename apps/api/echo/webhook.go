package echoapi

import (
	"io/ioutil"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/billing"
)

// sigHeader is where the provider puts the payload signature.
const sigHeader = "Stripe-Signature"

type billingApi struct {
	reconciler *billing.Reconciler
}

func registerBillingAPI(g *echo.Group, reconciler *billing.Reconciler) {
	api := billingApi{reconciler: reconciler}

	// un-authed: the signature check is the authentication
	g.POST("/billing/webhook", api.webhook)
}

func (api *billingApi) webhook(ctx echo.Context) error {
	payload, err := ioutil.ReadAll(ctx.Request().Body)
	if err != nil {
		return errors.Wrap(err, "reading webhook payload")
	}

	err = api.reconciler.HandleEvent(ctx.Request().Context(), payload, ctx.Request().Header.Get(sigHeader))
	if errors.Cause(err) == billing.ErrSignatureInvalid {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid signature")
	}
	if err != nil {
		// a store write failed; a non-2xx makes the provider redeliver
		return errors.Wrap(err, "handling webhook event")
	}
	return ctx.JSON(http.StatusOK, WebhookResponse{Received: true})
}
