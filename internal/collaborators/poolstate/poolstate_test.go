package poolstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryTracksVenuePerAddress(t *testing.T) {
	reg := NewRegistry()
	reg.Register("mintA", "addr-curve", VenueBondingCurve)
	reg.Register("mintA", "addr-amm", VenueAMM)

	r := NewReader("https://example.invalid", reg)
	require.Equal(t, VenueBondingCurve, r.venueFor("addr-curve"))
	require.Equal(t, VenueAMM, r.venueFor("addr-amm"))
}

func TestVenueForUnknownAddressDefaultsToBondingCurve(t *testing.T) {
	reg := NewRegistry()
	r := NewReader("https://example.invalid", reg)
	require.Equal(t, VenueBondingCurve, r.venueFor("addr-unseen"))
}
