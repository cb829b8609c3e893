package pagination

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrInvalidLimit is returned when the limit query parameter is not a
// non-negative integer.
var ErrInvalidLimit = errors.New("limit must be a non-negative integer")

// Limits bounds the row count a list endpoint will return.
type Limits struct {
	Default int
	Max     int
}

// Clamp maps n into [1, Max], substituting Default for zero or negative values.
func (l Limits) Clamp(n int) int {
	if n <= 0 {
		n = l.Default
	}
	if l.Max > 0 && n > l.Max {
		n = l.Max
	}
	return n
}

// FromContext reads the "limit" query parameter and clamps it to l.
// A missing parameter yields l.Default.
func FromContext(c echo.Context, l Limits) (int, error) {
	raw := strings.TrimSpace(c.QueryParam("limit"))
	if raw == "" {
		return l.Clamp(0), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ErrInvalidLimit
	}
	return l.Clamp(n), nil
}

// Response wraps a bounded list response.
type Response struct {
	Data  interface{} `json:"data"`
	Count int         `json:"count"`
	Limit int         `json:"limit"`
}

func NewResponse(data interface{}, count, limit int) *Response {
	return &Response{
		Data:  data,
		Count: count,
		Limit: limit,
	}
}
