package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/nextlevelbuilder/threadrun/internal/store"
)

// ErrInvalidModel is returned when a model name does not fit its provider.
var ErrInvalidModel = errors.New("invalid model name")

var (
	openAIModelPattern  = regexp.MustCompile(`^(gpt|o\d|chatgpt|text-embedding)[\w.\-:]*$`)
	bedrockModelPattern = regexp.MustCompile(`^(arn:aws:bedrock:[\w-]+:\d*:[\w\-/.:]+|[\w-]+\.[\w.\-:]+)$`)
)

// ValidateModelName checks name against the naming scheme of provider.
func ValidateModelName(provider, name string) error {
	var ok bool
	switch provider {
	case "openai":
		ok = openAIModelPattern.MatchString(name)
	case "bedrock":
		ok = bedrockModelPattern.MatchString(name)
	default:
		return fmt.Errorf("unsupported provider %q: %w", provider, ErrInvalidModel)
	}
	if !ok {
		return fmt.Errorf("%s model %q: %w", provider, name, ErrInvalidModel)
	}
	return nil
}

// Factory builds providers from stored adapter settings.
type Factory interface {
	Chat(ctx context.Context, s *store.LLMSettings) (Provider, error)
	Embedder(ctx context.Context, s *store.LLMSettings) (Embedder, error)
}

// DefaultFactory builds real OpenAI and Bedrock clients.
type DefaultFactory struct{}

func (DefaultFactory) Chat(ctx context.Context, s *store.LLMSettings) (Provider, error) {
	if s == nil {
		return nil, errors.New("llm settings missing")
	}
	if err := ValidateModelName(s.Provider, s.Name); err != nil {
		return nil, err
	}
	switch s.Provider {
	case "openai":
		return NewOpenAIProvider(s.APIKey, s.APIBase, s.Name), nil
	default:
		return NewBedrockProvider(ctx, BedrockConfig{
			Region:          s.AWSRegion,
			AccessKeyID:     s.AWSAccessKeyID,
			SecretAccessKey: s.AWSSecretAccessKey,
			Model:           s.Name,
		})
	}
}

func (DefaultFactory) Embedder(ctx context.Context, s *store.LLMSettings) (Embedder, error) {
	if s == nil {
		return nil, errors.New("embeddings settings missing")
	}
	if err := ValidateModelName(s.Provider, s.Name); err != nil {
		return nil, err
	}
	switch s.Provider {
	case "openai":
		return NewOpenAIEmbedder(s.APIKey, s.APIBase, s.Name), nil
	default:
		return newBedrockEmbedder(ctx, s)
	}
}

type invokeModelAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// bedrockEmbedder calls Titan-style embedding models one text at a time.
type bedrockEmbedder struct {
	client invokeModelAPI
	model  string
}

func newBedrockEmbedder(ctx context.Context, s *store.LLMSettings) (*bedrockEmbedder, error) {
	region := s.AWSRegion
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if s.AWSAccessKeyID != "" && s.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AWSAccessKeyID, s.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &bedrockEmbedder{client: bedrockruntime.NewFromConfig(awsCfg), model: s.Name}, nil
}

func (e *bedrockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		body, _ := json.Marshal(map[string]string{"inputText": t})
		resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("bedrock: invoke %s: %w", e.model, err)
		}
		var parsed struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("bedrock: decode embedding: %w", err)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}
