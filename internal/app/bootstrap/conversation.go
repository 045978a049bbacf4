package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
	"github.com/wolfman30/clinic-booking-assistant/internal/conversation"
	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

// JobStore is the job status surface shared by the publisher, the workers
// and the operator endpoint.
type JobStore interface {
	conversation.JobRecorder
	conversation.JobUpdater
}

// BuildClassifier returns the free-text classifier. The keyword classifier is
// always available; "llm" layers a model on top of it and falls back to
// keywords when the provider is not configured.
func BuildClassifier(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.Classifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	keywords := conversation.NewKeywordClassifier()
	if cfg.Classifier != "llm" {
		logger.Info("using keyword classifier")
		return keywords, nil
	}

	primary, err := buildLLMClient(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		logger.Warn("llm classifier requested but provider is not configured; using keywords", "provider", cfg.LLMProvider)
		return keywords, nil
	}

	client := primary
	if fb := strings.TrimSpace(cfg.LLMFallbackProvider); fb != "" && fb != cfg.LLMProvider {
		fallback, err := buildLLMClient(ctx, fb, cfg, awsCfg)
		if err != nil {
			logger.Warn("failed to build fallback llm client", "provider", fb, "error", err)
		} else if fallback != nil {
			client = conversation.NewFallbackLLMClient(primary, fallback, logger)
			logger.Info("llm fallback enabled", "primary", cfg.LLMProvider, "fallback", fb)
		}
	}

	logger.Info("using llm classifier", "provider", cfg.LLMProvider)
	return conversation.NewLLMClassifier(client, "", keywords, logger), nil
}

// buildLLMClient returns nil without an error when provider lacks credentials.
func buildLLMClient(ctx context.Context, provider string, cfg *appconfig.Config, awsCfg aws.Config) (conversation.LLMClient, error) {
	switch provider {
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil
		}
		return conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID), nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil
		}
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", provider)
	}
}

// BuildTurnQueue wires the chat turn queue and job store. The in-memory pair
// is returned when USE_MEMORY_QUEUE is set; the API must then run the
// workers itself.
func BuildTurnQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.Queue, JobStore) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.UseMemoryQueue || strings.TrimSpace(cfg.ConversationQueueURL) == "" {
		if !cfg.UseMemoryQueue {
			logger.Warn("CONVERSATION_QUEUE_URL not set; using in-memory queue")
		}
		return conversation.NewMemoryQueue(256), conversation.NewMemoryJobStore()
	}

	queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ConversationQueueURL)
	jobs := conversation.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.ConversationJobsTable, logger)
	logger.Info("using sqs turn queue", "queue_url", cfg.ConversationQueueURL, "jobs_table", cfg.ConversationJobsTable)
	return queue, jobs
}

// UsesMemoryQueue reports whether BuildTurnQueue returned the in-process queue.
func UsesMemoryQueue(queue conversation.Queue) bool {
	_, ok := queue.(*conversation.MemoryQueue)
	return ok
}
