package pagination

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		page, limit int
		want        Params
	}{
		{name: "defaults", want: Params{Page: 1, Limit: DefaultLimit, Offset: 0}},
		{name: "second page", page: 2, limit: 10, want: Params{Page: 2, Limit: 10, Offset: 10}},
		{name: "capped limit", page: 1, limit: 1000, want: Params{Page: 1, Limit: MaxLimit, Offset: 0}},
		{name: "negative page", page: -3, limit: 5, want: Params{Page: 1, Limit: 5, Offset: 0}},
		{name: "huge page saturates", page: math.MaxInt, limit: 100, want: Params{Page: math.MaxInt, Limit: 100, Offset: math.MaxInt}},
		{name: "first page past the int range", page: math.MaxInt/100 + 2, limit: 100, want: Params{Page: math.MaxInt/100 + 2, Limit: 100, Offset: math.MaxInt}},
		{name: "largest page that fits", page: math.MaxInt/100 + 1, limit: 100, want: Params{Page: math.MaxInt/100 + 1, Limit: 100, Offset: (math.MaxInt / 100) * 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.page, tt.limit))
		})
	}
}

func TestFromQuery(t *testing.T) {
	assert.Equal(t, Params{Page: 3, Limit: 5, Offset: 10}, FromQuery(url.Values{"page": {"3"}, "limit": {"5"}}))
	assert.Equal(t, New(0, 0), FromQuery(url.Values{"page": {"x"}, "limit": {"-1"}}))
}

func TestWindow(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	first := Window(items, New(1, 2))
	assert.Equal(t, []int{1, 2}, first.Items)
	assert.True(t, first.HasNext)
	assert.Equal(t, 5, first.Total)

	last := Window(items, New(3, 2))
	assert.Equal(t, []int{5}, last.Items)
	assert.False(t, last.HasNext)

	beyond := Window(items, New(9, 2))
	assert.Empty(t, beyond.Items)
	assert.NotNil(t, beyond.Items)
}

func TestWindowPastEnd(t *testing.T) {
	items := []int{1, 2, 3}

	for _, page := range []int{math.MaxInt, math.MaxInt/100 + 1, math.MaxInt/100 + 2} {
		p := New(page, 100)
		assert.GreaterOrEqual(t, p.Offset, 0)

		got := Window(items, p)
		assert.Empty(t, got.Items)
		assert.False(t, got.HasNext, "page %d", page)
		assert.Equal(t, 3, got.Total)
	}

	assert.False(t, HasNext(math.MaxInt-10, 100, 50))
	assert.True(t, HasNext(0, 2, 3))
	assert.False(t, HasNext(0, 3, 3))
}
