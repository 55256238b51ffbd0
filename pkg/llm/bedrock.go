package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

const (
	defaultMaxTokens   = 4096
	maxInvokeAttempts  = 4
	initialBackoff     = 2 * time.Second
	breakerOpenTimeout = 60 * time.Second
)

// converseAPI is the slice of the Bedrock runtime client we use.
type converseAPI interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient invokes models through the Bedrock Converse API with
// bounded exponential retry on transient errors and a circuit breaker
// that sheds load after consecutive failures.
type BedrockClient struct {
	api     converseAPI
	modelID string
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewBedrockClient builds a client from the ambient AWS credential chain.
func NewBedrockClient(ctx context.Context, region, modelID string, logger *slog.Logger) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newBedrockClient(bedrockruntime.NewFromConfig(cfg), modelID, logger), nil
}

func newBedrockClient(api converseAPI, modelID string, logger *slog.Logger) *BedrockClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bedrock",
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("LLM circuit breaker state change",
				slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})
	return &BedrockClient{api: api, modelID: modelID, breaker: breaker, logger: logger}
}

// Invoke runs one Converse call. Transient provider errors are retried
// with exponential backoff up to maxInvokeAttempts; the returned error
// wraps ErrTransient when the caller could usefully retry later.
func (c *BedrockClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	var resp *Response

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(initialBackoff)),
		maxInvokeAttempts-1), ctx)

	err := backoff.Retry(func() error {
		r, err := c.invokeOnce(ctx, req)
		if err != nil {
			if IsRetryable(err) {
				c.logger.Warn("LLM call failed, will retry", slog.Any("error", err))
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *BedrockClient) invokeOnce(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(req.Temperature),
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.api.Converse(ctx, input)
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, classify(err)
	}

	out := result.(*bedrockruntime.ConverseOutput)
	text, err := extractText(out)
	if err != nil {
		return nil, err
	}

	resp := &Response{Text: text, LatencyMS: latency, ModelID: c.modelID}
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			resp.RequestTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			resp.ResponseTokens = int(*out.Usage.OutputTokens)
		}
	}
	return resp, nil
}

func extractText(out *bedrockruntime.ConverseOutput) (string, error) {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("unexpected converse output type %T", out.Output)
	}
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			return text.Value, nil
		}
	}
	return "", fmt.Errorf("converse response contained no text block")
}

// classify maps provider errors onto the transient/fatal split. Breaker
// rejections count as transient so the document stays retryable while the
// provider recovers.
func classify(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("llm circuit open: %w: %w", ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("llm call timed out: %w: %w", ErrTransient, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException",
			"ModelTimeoutException", "InternalServerException",
			"ModelNotReadyException":
			return fmt.Errorf("llm provider error %s: %w: %w", apiErr.ErrorCode(), ErrTransient, err)
		}
	}
	return fmt.Errorf("llm call failed: %w", err)
}
