package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/billing"
	"github.com/trezcool/shule/core/enroll"
)

type enrollApi struct {
	svc *enroll.Service
}

func registerEnrollAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *enroll.Service) {
	api := enrollApi{svc: svc}

	g.POST("/classes/:id/enroll", api.enrollClass, jwt)
	g.POST("/events/:id/register", api.registerEvent, jwt)

	eg := g.Group("/enrollments", jwt)
	eg.GET("", api.list)
	eg.DELETE("/:id", api.leaveClass)

	rg := g.Group("/registrations", jwt)
	rg.DELETE("/:id", api.leaveEvent)
}

// Handlers

func (api *enrollApi) enrollClass(ctx echo.Context) error {
	return api.initiate(ctx, enroll.Target{ClassID: ctx.Param("id")})
}

func (api *enrollApi) registerEvent(ctx echo.Context) error {
	return api.initiate(ctx, enroll.Target{EventID: ctx.Param("id")})
}

func (api *enrollApi) initiate(ctx echo.Context, target enroll.Target) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	// the body is optional; guardians pass on_behalf_of
	var data EnrollRequest
	if ctx.Request().ContentLength > 0 {
		if err := ctx.Bind(&data); err != nil {
			return errors.Wrap(err, "binding to EnrollRequest")
		}
	}

	res, err := api.svc.InitiateCheckout(ctx.Request().Context(), claims.Subject, target, data.OnBehalfOf)
	if err != nil {
		return errors.Wrap(err, "initiating checkout")
	}

	// a PENDING result carries a checkout redirect; anything else is final
	code := http.StatusCreated
	if res.RedirectURL != "" {
		code = http.StatusOK
	}
	return ctx.JSON(code, res)
}

func (api *enrollApi) list(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	claimsList, err := api.svc.ListByUser(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "listing enrollments")
	}
	return ctx.JSON(http.StatusOK, claimsList)
}

func (api *enrollApi) leaveClass(ctx echo.Context) error {
	return api.leave(ctx, billing.KindClass)
}

func (api *enrollApi) leaveEvent(ctx echo.Context) error {
	return api.leave(ctx, billing.KindEvent)
}

func (api *enrollApi) leave(ctx echo.Context, kind string) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err := api.svc.Leave(ctx.Request().Context(), claims.Subject, kind, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "leaving")
	}
	return ctx.NoContent(http.StatusNoContent)
}
