package llm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	calls int
	out   *bedrockruntime.ConverseOutput
	err   error
	last  *bedrockruntime.ConverseInput
}

func (f *fakeConverse) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.calls++
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(120),
			OutputTokens: aws.Int32(45),
		},
	}
}

func TestInvokeSuccess(t *testing.T) {
	api := &fakeConverse{out: textOutput(`{"summary": "ok"}`)}
	client := newBedrockClient(api, "test-model", slog.Default())

	resp, err := client.Invoke(context.Background(), Request{
		System:    "You classify documents.",
		Prompt:    "Classify this.",
		MaxTokens: 512,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "ok"}`, resp.Text)
	assert.Equal(t, 120, resp.RequestTokens)
	assert.Equal(t, 45, resp.ResponseTokens)
	assert.Equal(t, "test-model", resp.ModelID)
	assert.Equal(t, 1, api.calls)

	require.NotNil(t, api.last)
	assert.Equal(t, "test-model", *api.last.ModelId)
	assert.Equal(t, int32(512), *api.last.InferenceConfig.MaxTokens)
	require.Len(t, api.last.System, 1)
}

func TestInvokeDefaultsMaxTokens(t *testing.T) {
	api := &fakeConverse{out: textOutput("hi")}
	client := newBedrockClient(api, "test-model", slog.Default())

	_, err := client.Invoke(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(defaultMaxTokens), *api.last.InferenceConfig.MaxTokens)
}

func TestInvokeFatalErrorNotRetried(t *testing.T) {
	api := &fakeConverse{err: &smithy.GenericAPIError{
		Code: "ValidationException", Message: "bad request",
	}}
	client := newBedrockClient(api, "test-model", slog.Default())

	_, err := client.Invoke(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, 1, api.calls, "fatal errors must not be retried")
}

func TestInvokeOnceThrottlingIsTransient(t *testing.T) {
	api := &fakeConverse{err: &smithy.GenericAPIError{
		Code: "ThrottlingException", Message: "slow down",
	}}
	client := newBedrockClient(api, "test-model", slog.Default())

	_, err := client.invokeOnce(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestClassifyProviderCodes(t *testing.T) {
	transientCodes := []string{
		"ThrottlingException", "ServiceUnavailableException",
		"ModelTimeoutException", "InternalServerException",
		"ModelNotReadyException",
	}
	for _, code := range transientCodes {
		err := classify(&smithy.GenericAPIError{Code: code})
		assert.True(t, IsRetryable(err), "code %s should be transient", code)
	}

	err := classify(&smithy.GenericAPIError{Code: "AccessDeniedException"})
	assert.False(t, IsRetryable(err))

	assert.True(t, IsRetryable(classify(context.DeadlineExceeded)))
}

func TestExtractTextNoTextBlock(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{Role: brtypes.ConversationRoleAssistant},
		},
	}
	_, err := extractText(out)
	assert.Error(t, err)
}
