package service_test

import (
	"errors"
	"testing"

	"github.com/phrazzld/imagery-api/internal/service"
	"github.com/phrazzld/imagery-api/internal/store"
	"github.com/phrazzld/imagery-api/internal/tiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantIs   error
		wantSame bool
	}{
		{
			name:     "model store error maps to sentinel",
			err:      store.NewStoreError("model", "get", "failed to load model", store.ErrModelNotFound),
			wantIs:   service.ErrModelNotFound,
			wantSame: true,
		},
		{
			name:     "points store error maps to sentinel",
			err:      store.NewStoreError("points", "deduct", "failed to debit balance", store.ErrInsufficientPoints),
			wantIs:   service.ErrInsufficientPoints,
			wantSame: true,
		},
		{
			name:   "tiling error is an invalid request",
			err:    tiling.ErrInvalidGrid,
			wantIs: service.ErrInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := service.NewServiceError("submit", "failed", tc.err)
			assert.ErrorIs(t, got, tc.wantIs)
			if tc.wantSame {
				assert.Same(t, tc.wantIs, got)
			}
		})
	}
}

func TestNewServiceErrorKeepsStoreContext(t *testing.T) {
	cause := errors.New("connection reset")
	storeErr := store.NewStoreError("history", "update", "failed to update result", cause)

	got := service.NewServiceError("split", "failed to record history", storeErr)

	var svcErr *service.ServiceError
	require.ErrorAs(t, got, &svcErr)
	assert.Equal(t, "split", svcErr.Operation)

	var se *store.StoreError
	require.ErrorAs(t, got, &se)
	assert.Equal(t, "history", se.Entity)
	assert.Equal(t, "update", se.Operation)
	assert.ErrorIs(t, got, cause)

	assert.NoError(t, service.NewServiceError("split", "nothing", nil))
}
