package echoapi

import (
	"github.com/go-playground/validator/v10"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

type LoginResponse struct {
	Token string `json:"token"`
}

type SuccessResponse struct {
	Success string `json:"success"`
}

// EnrollRequest optionally names a student the requester acts for.
type EnrollRequest struct {
	OnBehalfOf string `json:"on_behalf_of"`
}

type GuardianshipRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

func (r *GuardianshipRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(r)
}

type WebhookResponse struct {
	Received bool `json:"received"`
}
