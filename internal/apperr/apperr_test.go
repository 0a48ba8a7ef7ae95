package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"invalid", InvalidArgument("bad %s", "address"), KindInvalidArgument},
		{"not found", NotFound("group %q", "eng"), KindNotFound},
		{"conflict", Conflict("email taken"), KindConflict},
		{"delivery", Delivery(errors.New("421"), "send failed"), KindDelivery},
		{"store", Store(errors.New("disk"), "insert recipient"), KindStore},
		{"wrapped", fmt.Errorf("resolve group: %w", NotFound("group")), KindNotFound},
		{"plain", errors.New("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Delivery(cause, "deliver to %s", "a@x.com")

	assert.Equal(t, "delivery error: deliver to a@x.com: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, Is(err, KindDelivery))
	assert.False(t, Is(nil, KindDelivery))

	assert.Equal(t, "not found: template \"welcome\"", NotFound("template %q", "welcome").Error())
}
