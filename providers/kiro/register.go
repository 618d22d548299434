package kiro

import (
	"github.com/erikhoward/kirogw/core"
	"github.com/erikhoward/kirogw/providers"
)

func init() {
	providers.Register(providerID, func(refreshToken string) core.Provider {
		return New(NewSessionManager(NewDesktopIssuer(refreshToken, DefaultRegion)))
	})
}
