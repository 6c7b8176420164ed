package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var errIncomplete = errors.New("response stream ended without a completed response")

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float64
}

func NewOpenAI(baseURL, apiKey, model string, temperature float64) *OpenAIProvider {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	// Retries are owned by the Retrying decorator.
	opts = append(opts, option.WithMaxRetries(0))
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model, temperature: temperature}
}

func (o *OpenAIProvider) Model() string { return o.model }

func (o *OpenAIProvider) ChatStream(ctx context.Context, input []responses.ResponseInputItemUnionParam, tools []responses.ToolUnionParam, onToken func(string)) (*responses.Response, error) {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(o.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: input,
		},
		Tools: tools,
	}
	if o.temperature > 0 {
		params.Temperature = openai.Float(o.temperature)
	}

	stream := o.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var completed *responses.Response

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "response.output_text.delta":
			if event.Delta != "" && onToken != nil {
				onToken(event.Delta)
			}
		case "response.completed":
			resp := event.Response
			completed = &resp
		case "response.failed":
			return nil, fmt.Errorf("response failed: %s", event.Response.Error.Message)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}
	if completed == nil {
		return nil, errIncomplete
	}

	return completed, nil
}
