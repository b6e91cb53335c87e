package clients

import (
	"context"
	"net/http"

	"github.com/qumail/keypool-backend/api"
	"github.com/qumail/keypool-backend/interfaces"
)

// Lifecycle operations used by poolctl and provisioning tooling. These ride
// the same authenticated channel and retry policy as the capability ops.

// Register creates an entity with a pre-filled pool on the peer service.
func (c *PoolClient) Register(ctx context.Context, entity interfaces.EntityID, contact string, initialPoolSize int) (*interfaces.RegistrationSummary, error) {
	req := api.RegisterRequest{
		EntityID:        entity.String(),
		Contact:         contact,
		InitialPoolSize: initialPoolSize,
	}

	var resp api.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/entities", nil, req, &resp); err != nil {
		return nil, err
	}
	return &interfaces.RegistrationSummary{
		EntityID: interfaces.EntityID(resp.EntityID),
		PoolID:   interfaces.PoolID(resp.PoolID),
		Status:   *resp.Status.ToPoolStatus(),
	}, nil
}

// Refill tops the entity's pool up on the peer service.
func (c *PoolClient) Refill(ctx context.Context, entity interfaces.EntityID, keysToAdd int) (*interfaces.RefillResult, error) {
	var resp api.RefillResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/pools/"+entity.String()+"/refill", nil,
		api.RefillRequest{Count: keysToAdd}, &resp)
	if err != nil {
		return nil, err
	}
	return &interfaces.RefillResult{
		Added:           resp.Added,
		AvailableBefore: resp.AvailableBefore,
		AvailableAfter:  resp.AvailableAfter,
	}, nil
}

// Delete cascades the entity and its pool on the peer service.
func (c *PoolClient) Delete(ctx context.Context, entity interfaces.EntityID) (*interfaces.DeleteResult, error) {
	var resp api.DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/v1/entities/"+entity.String(), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &interfaces.DeleteResult{
		KeysDeleted:       resp.KeysDeleted,
		DeliveriesDeleted: resp.DeliveriesDeleted,
	}, nil
}

// ListLowPools returns the peer's pools under their low watermark.
func (c *PoolClient) ListLowPools(ctx context.Context) ([]interfaces.PoolStatus, error) {
	var resp api.LowPoolsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/pools/low", nil, nil, &resp); err != nil {
		return nil, err
	}

	statuses := make([]interfaces.PoolStatus, len(resp.Pools))
	for i := range resp.Pools {
		statuses[i] = *resp.Pools[i].ToPoolStatus()
	}
	return statuses, nil
}

var _ interfaces.PoolAdmin = (*PoolClient)(nil)
