package agent

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/apperrors"
	"github.com/codexec/codexec/internal/mcpclient"
)

// OpenAIClient implements Client on the OpenAI chat-completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
	log    *zap.Logger
}

// NewOpenAIClient builds a streaming client for the given model. apiKey and
// baseURL fall back to the SDK's environment defaults when empty.
func NewOpenAIClient(model, apiKey, baseURL string, log *zap.Logger) *OpenAIClient {
	if log == nil {
		log = zap.NewNop()
	}
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  model,
		log:    log,
	}
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

func (c *OpenAIClient) StreamTurn(ctx context.Context, req Request, onDelta func(string)) (*Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req),
	}
	if params.Model == "" {
		params.Model = c.model
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" && onDelta != nil {
			onDelta(text)
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.New(apperrors.KindCancelled, "model call cancelled", ctx.Err())
		}
		return nil, apperrors.New(apperrors.KindModelCallFailed, "model stream failed", err)
	}
	if len(acc.Choices) == 0 {
		return nil, apperrors.New(apperrors.KindModelCallFailed, "model returned no choices", nil)
	}

	choice := acc.Choices[0]
	turn := &Turn{
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, apperrors.Newf(apperrors.KindModelCallFailed,
					"unparseable tool arguments for %s: %v", tc.Function.Name, err)
			}
		}
		turn.ToolCalls = append(turn.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return turn, nil
}

func buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return messages
}

func buildTools(specs []mcpclient.ToolSpec) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
			Parameters:  openai.FunctionParameters(spec.InputSchema),
		}))
	}
	return tools
}
