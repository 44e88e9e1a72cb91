//go:build bedrock

package main

import (
	"log/slog"

	"ragline/internal/adapter/llm"
	"ragline/internal/domain"
	"ragline/internal/infra/config"
)

func newBedrockRequester(pc config.PlatformConfig, cred config.CredentialSet, log *slog.Logger) (domain.ModelRequester, error) {
	return llm.NewBedrockRequester(pc.Name, cred, pc.Models, log)
}
