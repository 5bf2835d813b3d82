package assistant

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
)

// OpenAIProvider implements Provider with the OpenAI Assistants API.
type OpenAIProvider struct {
	client openai.Client
	log    zerolog.Logger
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. baseURL may be empty.
func NewOpenAIProvider(apiKey, baseURL string, log zerolog.Logger) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithMiddleware(makeRequestTraceMiddleware(log)))
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		log:    log.With().Str("provider", "openai").Logger(),
	}
}

func newOutboundRequestID() string {
	return "hb_" + random.String(12)
}

func makeRequestTraceMiddleware(log zerolog.Logger) option.Middleware {
	traceLog := log.With().Str("component", "openai_http").Logger()
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		start := time.Now()
		requestID := strings.TrimSpace(req.Header.Get("x-request-id"))
		if requestID == "" {
			requestID = newOutboundRequestID()
			req.Header.Set("x-request-id", requestID)
		}
		reqPath := ""
		if req.URL != nil {
			reqPath = req.URL.Path
		}

		resp, err := next(req)
		elapsedMs := time.Since(start).Milliseconds()
		if err != nil {
			traceLog.Error().
				Err(err).
				Str("request_id", requestID).
				Str("request_method", req.Method).
				Str("request_path", reqPath).
				Int64("duration_ms", elapsedMs).
				Msg("Provider HTTP request failed")
			return nil, err
		}

		event := traceLog.Debug().
			Str("request_id", requestID).
			Str("request_method", req.Method).
			Str("request_path", reqPath).
			Int("status_code", resp.StatusCode).
			Int64("duration_ms", elapsedMs)
		if upstream := strings.TrimSpace(resp.Header.Get("x-request-id")); upstream != "" {
			event = event.Str("upstream_request_id", upstream)
		}
		event.Msg("Provider HTTP response received")
		return resp, nil
	}
}

func (p *OpenAIProvider) CreateAssistant(ctx context.Context, def Definition) (string, error) {
	tools := make([]openai.AssistantToolUnionParam, 0, len(def.Tools))
	for _, tool := range def.Tools {
		tools = append(tools, openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			},
		})
	}
	created, err := p.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        openai.ChatModel(def.Model),
		Name:         openai.String(def.Name),
		Instructions: openai.String(def.Instructions),
		Tools:        tools,
	})
	if err != nil {
		return "", err
	}
	p.log.Info().Str("assistant_id", created.ID).Str("model", def.Model).Msg("Created assistant")
	return created.ID, nil
}

func (p *OpenAIProvider) CreateThread(ctx context.Context) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", err
	}
	return thread.ID, nil
}

func (p *OpenAIProvider) AddUserMessage(ctx context.Context, threadID, content string) error {
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(content),
		},
	})
	return err
}

func (p *OpenAIProvider) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return Run{}, err
	}
	return convertRun(run), nil
}

func (p *OpenAIProvider) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, err
	}
	return convertRun(run), nil
}

func (p *OpenAIProvider) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	params := openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(outputs)),
	}
	for _, output := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(output.ToolCallID),
			Output:     openai.String(output.Output),
		})
	}
	run, err := p.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params)
	if err != nil {
		return Run{}, err
	}
	return convertRun(run), nil
}

func (p *OpenAIProvider) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := p.client.Beta.Threads.Runs.Cancel(ctx, threadID, runID)
	return err
}

func (p *OpenAIProvider) LatestAssistantMessage(ctx context.Context, threadID string) (Message, bool, error) {
	page, err := p.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(20),
	})
	if err != nil {
		return Message{}, false, err
	}
	for _, msg := range page.Data {
		if string(msg.Role) != "assistant" {
			continue
		}
		out := Message{ID: msg.ID, Role: string(msg.Role)}
		if len(msg.Content) > 0 && msg.Content[0].Type == "text" {
			out.Text = msg.Content[0].Text.Value
			out.HasText = true
		}
		return out, true, nil
	}
	return Message{}, false, nil
}

func convertRun(run *openai.Run) Run {
	out := Run{
		ID:           run.ID,
		Status:       RunStatus(run.Status),
		ErrorCode:    string(run.LastError.Code),
		ErrorMessage: run.LastError.Message,
	}
	for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out
}
