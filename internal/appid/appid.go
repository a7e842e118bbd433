package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	Vendor      = "quotelens"
	BinaryName  = "quotelens"
	EnvPrefix   = "QUOTELENS_"
	ConfigName  = "quotelens"
	Description = "Rate-limited, market-hours-aware stock watchlist refresh service"
)

var identity = &appidentity.Identity{
	Vendor:      Vendor,
	BinaryName:  BinaryName,
	EnvPrefix:   EnvPrefix,
	ConfigName:  ConfigName,
	Description: Description,
}

// Get returns the application identity. The identity is compiled in so the
// binary behaves the same inside and outside a checkout.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	copied := *identity
	return &copied, nil
}
