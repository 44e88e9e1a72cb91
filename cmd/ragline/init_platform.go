package main

import (
	"fmt"
	"log/slog"

	"ragline/internal/adapter/llm"
	"ragline/internal/domain"
	"ragline/internal/infra/config"
	"ragline/internal/usecase/platform"
)

// initPlatforms builds one Client per configured platform, each over its
// pool of credential configs, every requester wrapped with a circuit
// breaker.
func initPlatforms(cfg *config.Config, log *slog.Logger) (map[string]*platform.Client, error) {
	clients := make(map[string]*platform.Client, len(cfg.Platforms))

	for _, pc := range cfg.Platforms {
		configs := make([]*platform.ClientConfig, 0, len(pc.Configs))
		for i, cred := range pc.Configs {
			requester, err := newRequester(pc, cred, log)
			if err != nil {
				return nil, fmt.Errorf("platform %s: %w", pc.Name, err)
			}
			requester = llm.NewBreakerRequester(
				fmt.Sprintf("%s-%d", pc.Name, i), requester, pc.Breaker, log)
			configs = append(configs, platform.NewClientConfig(i, pc.Name, cred, requester))
		}

		pool := platform.NewConfigPool(configs)
		clients[pc.Name] = platform.NewClient(pc.Name, pool, log)
		log.Info("platform registered", "platform", pc.Name, "type", pc.Type, "configs", len(configs))
	}

	return clients, nil
}

func newRequester(pc config.PlatformConfig, cred config.CredentialSet, log *slog.Logger) (domain.ModelRequester, error) {
	switch pc.Type {
	case "", "openai":
		return llm.NewOpenAIRequester(pc.Name, cred, pc.Pool, log), nil
	case "bedrock":
		return newBedrockRequester(pc, cred, log)
	default:
		return nil, fmt.Errorf("unknown platform type %q", pc.Type)
	}
}
