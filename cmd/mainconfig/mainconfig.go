package mainconfig

import (
	"context"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/clinic-booking-assistant/internal/config"
)

// AWSServices lists the AWS APIs this deployment talks to: the SQS turn
// queue with its DynamoDB job table, the S3 call archive, SES staff email
// and the Bedrock classifier. A Postgres and Redis only deployment gets none.
func AWSServices(cfg *appconfig.Config) []string {
	var services []string
	if !cfg.UseMemoryQueue && strings.TrimSpace(cfg.ConversationQueueURL) != "" {
		services = append(services, sqs.ServiceID, dynamodb.ServiceID)
	}
	if strings.TrimSpace(cfg.ArchiveBucket) != "" {
		services = append(services, s3.ServiceID)
	}
	if cfg.EmailProvider == "ses" && strings.TrimSpace(cfg.SESFromEmail) != "" {
		services = append(services, sesv2.ServiceID)
	}
	if cfg.Classifier == "llm" && (cfg.LLMProvider == "bedrock" || cfg.LLMFallbackProvider == "bedrock") {
		services = append(services, bedrockruntime.ServiceID)
	}
	return services
}

// LoadAWSConfig builds the SDK config shared by the API and both workers.
// AWS_ENDPOINT_OVERRIDE points the emulated services (everything except
// Bedrock) at LocalStack; S3 keeps path-style hosts there.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	endpoint := strings.TrimSpace(cfg.AWSEndpointOverride)
	if endpoint == "" {
		return awsCfg, nil
	}
	emulated := slices.DeleteFunc(AWSServices(cfg), func(s string) bool { return s == bedrockruntime.ServiceID })
	awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
		func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if !slices.Contains(emulated, service) {
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			}
			return aws.Endpoint{
				URL:               endpoint,
				PartitionID:       "aws",
				SigningRegion:     cfg.AWSRegion,
				HostnameImmutable: service == s3.ServiceID,
			}, nil
		},
	)
	return awsCfg, nil
}
