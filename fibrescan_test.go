package fibrescan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhollis/fibrescan"
)

func TestRowID(t *testing.T) {
	t.Parallel()

	t.Run("stable across calls", func(t *testing.T) {
		t.Parallel()
		a := fibrescan.RowID("bt.com", "Full Fibre 500", 500, 35.0, "https://www.bt.com/broadband/deals")
		b := fibrescan.RowID("bt.com", "Full Fibre 500", 500, 35.0, "https://www.bt.com/broadband/deals")
		assert.Equal(t, a, b)
		assert.Len(t, a, 16)
	})

	t.Run("sensitive to every field", func(t *testing.T) {
		t.Parallel()
		base := fibrescan.RowID("bt.com", "Full Fibre 500", 500, 35.0, "u")
		assert.NotEqual(t, base, fibrescan.RowID("sky.com", "Full Fibre 500", 500, 35.0, "u"))
		assert.NotEqual(t, base, fibrescan.RowID("bt.com", "Full Fibre 900", 500, 35.0, "u"))
		assert.NotEqual(t, base, fibrescan.RowID("bt.com", "Full Fibre 500", 900, 35.0, "u"))
		assert.NotEqual(t, base, fibrescan.RowID("bt.com", "Full Fibre 500", 500, 36.0, "u"))
		assert.NotEqual(t, base, fibrescan.RowID("bt.com", "Full Fibre 500", 500, 35.0, "v"))
	})
}

func TestNewOfferRow(t *testing.T) {
	t.Parallel()

	upfront := 9.99
	term := 24
	scrapedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := fibrescan.NewOfferRow(fibrescan.Offer{
		PlanName:        "Gig1",
		SpeedMbps:       1130,
		MonthlyPriceGBP: 45.0,
		UpfrontFeeGBP:   &upfront,
		ContractMonths:  &term,
	}, "virginmedia.com", "https://www.virginmedia.com/broadband", "TW8 0FD", scrapedAt)

	assert.Equal(t, "virginmedia.com", row.Provider)
	assert.Equal(t, "TW8 0FD", row.Postcode)
	assert.Equal(t, 1130, row.SpeedMbps)
	assert.Equal(t, scrapedAt, row.ScrapedAt)
	assert.Equal(t, fibrescan.RowID("virginmedia.com", "Gig1", 1130, 45.0, "https://www.virginmedia.com/broadband"), row.RowID)
	require.NoError(t, row.Validate())
}

func TestOfferRowValidate(t *testing.T) {
	t.Parallel()

	t.Run("missing provider", func(t *testing.T) {
		t.Parallel()
		row := fibrescan.OfferRow{SpeedMbps: 100}
		err := row.Validate()
		require.Error(t, err)
		assert.Equal(t, fibrescan.EINVALID, fibrescan.ErrorCode(err))
	})

	t.Run("non-positive speed", func(t *testing.T) {
		t.Parallel()
		row := fibrescan.OfferRow{Provider: "bt.com"}
		err := row.Validate()
		require.Error(t, err)
		assert.Equal(t, fibrescan.EINVALID, fibrescan.ErrorCode(err))
	})
}

func TestProviderOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.bt.com/broadband/deals", "bt.com"},
		{"https://ee.co.uk/broadband", "ee.co.uk"},
		{"https://www.sky.com/broadband/buy", "sky.com"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, fibrescan.ProviderOf(tt.url))
		})
	}
}

func TestTristate(t *testing.T) {
	t.Parallel()

	t.Run("unset", func(t *testing.T) {
		t.Parallel()
		_, ok := fibrescan.Unset.Bool()
		assert.False(t, ok)
		assert.Equal(t, "", fibrescan.Unset.String())
	})

	t.Run("yes", func(t *testing.T) {
		t.Parallel()
		v, ok := fibrescan.Yes.Bool()
		assert.True(t, ok)
		assert.True(t, v)
		assert.Equal(t, "yes", fibrescan.Yes.String())
	})

	t.Run("no", func(t *testing.T) {
		t.Parallel()
		v, ok := fibrescan.No.Bool()
		assert.True(t, ok)
		assert.False(t, v)
		assert.Equal(t, "no", fibrescan.No.String())
	})

	t.Run("of bool", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, fibrescan.Yes, fibrescan.TristateOf(true))
		assert.Equal(t, fibrescan.No, fibrescan.TristateOf(false))
	})
}

func TestScrapeRequestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		req := fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 6}
		assert.NoError(t, req.Validate())
	})

	t.Run("missing postcode", func(t *testing.T) {
		t.Parallel()
		req := fibrescan.ScrapeRequest{MaxSteps: 6}
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, fibrescan.EINVALID, fibrescan.ErrorCode(err))
	})

	t.Run("negative step budget", func(t *testing.T) {
		t.Parallel()
		req := fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: -1}
		require.Error(t, req.Validate())
	})
}

func TestCountersEvent(t *testing.T) {
	t.Parallel()

	c := &fibrescan.Counters{Goto: 2, Steps: 3}
	e := c.Event("sky.com", "https://www.sky.com/broadband/buy", "navigated_a1", "", fibrescan.Yes)
	assert.Equal(t, 2, e.Goto)
	assert.Equal(t, 3, e.Steps)
	assert.Equal(t, "navigated_a1", e.Step)
	assert.Equal(t, fibrescan.Yes, e.Allowed)
}
