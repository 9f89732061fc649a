package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromCode(t *testing.T) {
	s, ok := FromCode(431)
	assert.True(t, ok)
	assert.Equal(t, RequestHeaderFieldsTooLarge, s)

	s, ok = FromCode(299)
	assert.False(t, ok)
	assert.Equal(t, Status{Code: 299}, s)
}

func TestStatusClass(t *testing.T) {
	testcases := []struct {
		desc     string
		status   Status
		expected string
	}{
		{desc: "informational", status: Continue, expected: "1xx"},
		{desc: "success", status: NoContent, expected: "2xx"},
		{desc: "client error", status: NotFound, expected: "4xx"},
		{desc: "server error", status: HTTPVersionNotSupported, expected: "5xx"},
		{desc: "out of range", status: Status{Code: 999}, expected: "unknown"},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.status.Class())
		})
	}
}

func TestError(t *testing.T) {
	cause := assert.AnError
	err := NewError(cause, BadRequest)

	assert.Equal(t, BadRequest, err.Status)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "400 Bad Request")
	assert.Equal(t, "404 Not Found", NotFound.String())
}
