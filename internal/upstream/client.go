// Package upstream calls the chat-completion API. One invocation makes
// exactly one HTTP call with one credential; retries across credentials
// belong to the dispatcher.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mtuomik/chatgate/internal/credential"
	"github.com/mtuomik/chatgate/internal/domain"
	"github.com/mtuomik/chatgate/internal/httputil"
)

// maxErrorBody caps how much of an upstream error body is carried into
// the failure cause.
const maxErrorBody = 1024

type completionRequest struct {
	Model     string           `json:"model"`
	Messages  []domain.Message `json:"messages"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []choice     `json:"choices"`
	Usage   domain.Usage `json:"usage"`
}

type choice struct {
	Message domain.Message `json:"message"`
}

// Reply is one successful completion.
type Reply struct {
	Message domain.Message
	Usage   domain.Usage
}

type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewClient(baseURL, model string, client *http.Client) *Client {
	if client == nil {
		client = httputil.DefaultClient()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  client,
	}
}

// CreateCompletion requests one completion using cred. Any failure comes
// back as a *domain.UpstreamError carrying cred's label, never the key.
func (c *Client) CreateCompletion(ctx context.Context, cred credential.Credential, messages []domain.Message, maxTokens int) (*Reply, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fail(cred, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fail(cred, fmt.Errorf("create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.Key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fail(cred, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// some upstreams echo the key back in auth errors
		detail = bytes.ReplaceAll(detail, []byte(cred.Key), []byte(cred.Label))
		return nil, fail(cred, fmt.Errorf("status=%d body=%s", resp.StatusCode, detail))
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fail(cred, fmt.Errorf("decode response: %w", err))
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fail(cred, errors.New("no assistant message in response"))
	}

	msg := completion.Choices[0].Message
	msg.Role = domain.RoleAssistant

	return &Reply{Message: msg, Usage: completion.Usage}, nil
}

func fail(cred credential.Credential, cause error) error {
	return &domain.UpstreamError{Credential: cred.Label, Cause: cause}
}
