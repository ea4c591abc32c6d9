package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoria/internal/memorial"
	"memoria/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) memorial.Store { return New() })
}

func TestReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Insert(ctx, storetest.Sample("owner"))
	require.NoError(t, err)

	got, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	got.Gallery[0].URL = "mutated"
	got.DonationInfo.SuggestedAmounts[0] = 1

	again, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Gallery[0].URL)
	assert.Equal(t, 25.0, again.DonationInfo.SuggestedAmounts[0])
}

func TestListByUnknownField(t *testing.T) {
	_, err := New().ListByField(context.Background(), memorial.Field("biography"), "x")
	assert.Error(t, err)
}
