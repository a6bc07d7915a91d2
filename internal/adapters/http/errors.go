package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/wayline/internal/core/domain"
)

// Lookup endpoints answer errors in plain text while /api/roads answers a
// JSON body. Front-end clients depend on both shapes, so the asymmetry is
// part of the contract and kept as is.

// messages are the fixed texts a lookup endpoint returns per error kind.
type messages struct {
	Missing  string
	Invalid  string
	NotFound string
	Failed   string
}

const msgMissingAPIKey = "Server is missing API key."

var (
	routeMessages = messages{
		Missing: `Missing "from" or "to" query parameters.`,
		Invalid: `Invalid coordinate format. Use "lon,lat".`,
		Failed:  "Error calculating route.",
	}
	geocodeMessages = messages{
		Missing:  `Missing search query "q".`,
		NotFound: "Location not found.",
		Failed:   "Error during geocoding.",
	}
	reverseGeocodeMessages = messages{
		Missing:  `Missing "lat" or "lng" parameters.`,
		NotFound: "Address not found.",
		Failed:   "Error during reverse geocoding.",
	}
	nearestAddressMessages = messages{
		Missing:  `Missing "lat" or "lon" parameters.`,
		Invalid:  "Invalid coordinates.",
		NotFound: "No address found.",
		Failed:   "Error looking up nearest address.",
	}
	addressMessages = messages{
		Missing:  `Missing "address" parameter.`,
		NotFound: "Address not found.",
		Failed:   "Error looking up address.",
	}
)

const msgRoadsFailed = "An error occurred while fetching road data."

// roadsErrorBody is the one structured error of the lookup surface.
var roadsErrorBody = fiber.Map{"error": msgRoadsFailed}

// classify maps err onto a status code and the public message for it.
func classify(err error, msgs messages) (int, string) {
	switch {
	case errors.Is(err, domain.ErrMissingParameter):
		return fiber.StatusBadRequest, msgs.Missing
	case errors.Is(err, domain.ErrInvalidFormat):
		return fiber.StatusBadRequest, msgs.Invalid
	case errors.Is(err, domain.ErrServerMisconfigured):
		return fiber.StatusInternalServerError, msgMissingAPIKey
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, msgs.NotFound
	default:
		return fiber.StatusInternalServerError, msgs.Failed
	}
}

// errText writes the plain-text response for err. Server-side failures are
// logged with their detail; the caller only sees the fixed message.
func errText(c *fiber.Ctx, err error, msgs messages, logMsg string) error {
	status, msg := classify(err, msgs)
	if status >= fiber.StatusInternalServerError {
		LoggerFromCtx(c.UserContext()).Error(logMsg, "error", err.Error())
	}
	return c.Status(status).SendString(msg)
}

// APIError is the structured body for errors raised outside the lookup
// handlers (unknown routes, panics, request timeouts).
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler is installed as fiber.Config.ErrorHandler.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		message = fe.Message
		switch status {
		case fiber.StatusNotFound:
			code = "not_found"
		case fiber.StatusRequestTimeout:
			code = "timeout"
		case fiber.StatusMethodNotAllowed:
			code = "method_not_allowed"
		default:
			if status < fiber.StatusInternalServerError {
				code = "bad_request"
			}
		}
	}
	if status >= fiber.StatusInternalServerError {
		LoggerFromCtx(c.UserContext()).Error("unhandled error", "path", c.Path(), "error", err.Error())
	}

	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}
