package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/user"
)

type userApi struct {
	svc        *user.Service
	validate   *validator.Validate
	translator ut.Translator
}

func registerUserAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *user.Service,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := userApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", api.login)

	// authed endpoints
	ag := ug.Group("", jwt)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("/register", api.create, adminMiddleware())
	ag.GET("", api.query, adminMiddleware())

	// guardianship endpoints
	gg := ag.Group("/guardianships")
	gg.POST("", api.requestGuardianship)
	gg.POST("/:id/approve", api.approveGuardianship, adminMiddleware())
	gg.POST("/:id/reject", api.rejectGuardianship, adminMiddleware())
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx.Request().Context(), data.Username, data.Password, api.svc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	usr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	users, err := api.svc.GetAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	if users == nil {
		users = []user.User{}
	}
	return ctx.JSON(http.StatusOK, users)
}

func (api *userApi) requestGuardianship(ctx echo.Context) error {
	var data GuardianshipRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GuardianshipRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	g, err := api.svc.RequestGuardianship(ctx.Request().Context(), claims.Subject, data.StudentID)
	if err != nil {
		return errors.Wrap(err, "requesting guardianship")
	}
	return ctx.JSON(http.StatusCreated, g)
}

func (api *userApi) approveGuardianship(ctx echo.Context) error {
	if err := api.svc.ApproveGuardianship(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "approving guardianship")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Guardianship approved."})
}

func (api *userApi) rejectGuardianship(ctx echo.Context) error {
	if err := api.svc.RejectGuardianship(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "rejecting guardianship")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Guardianship rejected."})
}
