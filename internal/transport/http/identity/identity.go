package identity

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

// Headers carrying the calling participant.
const (
	HeaderID   = "X-Participant-ID"
	HeaderName = "X-Participant-Name"
)

// Participant is the caller of a request.
type Participant struct {
	ID   uuid.UUID
	Name string
}

// FromRequest reads the participant headers. The name defaults to the id.
func FromRequest(c echo.Context) (Participant, error) {
	raw := strings.TrimSpace(c.Request().Header.Get(HeaderID))
	if raw == "" {
		return Participant{}, errorbank.BadRequest("missing participant identity",
			errorbank.WithCode("invalid_input"), errorbank.WithDetail("header", HeaderID))
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return Participant{}, errorbank.BadRequest("invalid participant identity",
			errorbank.WithCode("invalid_input"), errorbank.WithDetail("header", HeaderID), errorbank.WithCause(err))
	}

	name := strings.TrimSpace(c.Request().Header.Get(HeaderName))
	if name == "" {
		name = id.String()
	}
	return Participant{ID: id, Name: name}, nil
}
