package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const queryAnalysisPrompt = `You analyze marketplace search queries. Respond with a single JSON object:
{
  "keywords": ["search terms extracted or implied by the query"],
  "categoryHints": ["likely marketplace categories"],
  "attributes": {"attribute": "value"},
  "rankingFactors": ["price_asc"|"price_desc"|"popularity"|"recency"|"relevance", ...],
  "confidence": 0.0-1.0
}
Order rankingFactors by importance for this query. Respond with JSON only.`

const imageAnalysisPrompt = `You identify products in marketplace photos. Respond with a single JSON object:
{
  "caption": "one sentence describing the product",
  "keywords": ["search terms a buyer would use to find this product"],
  "attributes": {"attribute": "value"},
  "confidence": 0.0-1.0
}
Respond with JSON only.`

// OpenAIProvider implements Analyzer and Embedder on the OpenAI API.
// Every call carries a hard timeout; expiry is reported as KindTimeout.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
}

// NewOpenAIProvider creates a provider for the given models.
func NewOpenAIProvider(apiKey, model, embeddingModel string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		client:         openai.NewClient(apiKey),
		model:          model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
	}
}

// AnalyzeQuery asks the model for a structured reading of a text query.
func (p *OpenAIProvider) AnalyzeQuery(ctx context.Context, query string) (*QueryAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: queryAnalysisPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	raw := firstChoice(resp)
	var analysis QueryAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, &AnalysisError{Kind: KindMalformed, Raw: raw, Err: err}
	}
	if len(analysis.Keywords) == 0 {
		return nil, &AnalysisError{Kind: KindMalformed, Raw: raw, Err: fmt.Errorf("no keywords in analysis")}
	}

	return &analysis, nil
}

// AnalyzeImage asks the vision model to describe a product photo.
func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, image []byte) (*ImageAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: imageAnalysisPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	raw := firstChoice(resp)
	var analysis ImageAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, &AnalysisError{Kind: KindMalformed, Raw: raw, Err: err}
	}
	if len(analysis.Keywords) == 0 && analysis.Caption == "" {
		return nil, &AnalysisError{Kind: KindMalformed, Raw: raw, Err: fmt.Errorf("empty image analysis")}
	}

	return &analysis, nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, &AnalysisError{Kind: KindMalformed, Err: fmt.Errorf("empty embedding response")}
	}

	return resp.Data[0].Embedding, nil
}

// firstChoice extracts the first message content from a completion.
func firstChoice(resp openai.ChatCompletionResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

// classify maps a transport error to an AnalysisError kind.
func classify(err error) *AnalysisError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &AnalysisError{Kind: KindTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusRequestTimeout {
		return &AnalysisError{Kind: KindTimeout, Err: err}
	}

	return &AnalysisError{Kind: KindProvider, Err: err}
}
