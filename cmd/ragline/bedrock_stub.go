//go:build !bedrock

package main

import (
	"fmt"
	"log/slog"

	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

func newBedrockRequester(pc config.PlatformConfig, _ config.CredentialSet, _ *slog.Logger) (domain.ModelRequester, error) {
	return nil, fmt.Errorf("platform %s: binary built without bedrock support (build with -tags bedrock)", pc.Name)
}
