// AWS-hosted backends: Bedrock and SageMaker runtime invocation.
//
// Both clients share one aws.Config loaded at startup. When
// BEDROCK_ASSUMED_ROLE is set the Bedrock client assumes it via STS; the
// SageMaker client runs on the process credentials.
package upstream

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// LoadAWSConfig resolves the shared AWS configuration for the given region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// BedrockInvoker invokes a Bedrock model with a raw JSON body.
type BedrockInvoker interface {
	Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error)
}

// BedrockClient calls the Bedrock runtime InvokeModel API.
type BedrockClient struct {
	runtime     *bedrockruntime.Client
	contentType string
}

// NewBedrockClient builds a Bedrock runtime client, assuming roleARN when
// non-empty.
func NewBedrockClient(awsCfg aws.Config, roleARN, contentType string) *BedrockClient {
	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), roleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return &BedrockClient{
		runtime:     bedrockruntime.NewFromConfig(awsCfg),
		contentType: contentType,
	}
}

// Invoke sends body to the model and returns the raw response body. A
// service error counts as unreachable: Bedrock does not hand back an error
// body the way an HTTP proxy target does.
func (b *BedrockClient) Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error) {
	out, err := b.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String(b.contentType),
		Accept:      aws.String(b.contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock invoke: %v", ErrUnreachable, err)
	}
	return out.Body, nil
}

// SageMakerInvoker invokes a SageMaker inference endpoint.
type SageMakerInvoker interface {
	Invoke(ctx context.Context, endpointName string, body []byte) ([]byte, error)
}

// SageMakerClient calls the SageMaker runtime InvokeEndpoint API.
type SageMakerClient struct {
	runtime     *sagemakerruntime.Client
	contentType string
}

// NewSageMakerClient builds a SageMaker runtime client.
func NewSageMakerClient(awsCfg aws.Config, contentType string) *SageMakerClient {
	return &SageMakerClient{
		runtime:     sagemakerruntime.NewFromConfig(awsCfg),
		contentType: contentType,
	}
}

// Invoke sends body to the named endpoint and returns the raw response body.
func (s *SageMakerClient) Invoke(ctx context.Context, endpointName string, body []byte) ([]byte, error) {
	out, err := s.runtime.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(endpointName),
		Body:         body,
		ContentType:  aws.String(s.contentType),
		Accept:       aws.String(s.contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sagemaker invoke: %v", ErrUnreachable, err)
	}
	return out.Body, nil
}
