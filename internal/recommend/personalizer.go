package recommend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/errs"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/metrics"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// DefaultCatalogSample bounds the number of catalog books sent to the personalizer.
const DefaultCatalogSample = 200

// Profile describes the reader being personalized for.
type Profile struct {
	UserID         string   `json:"userId"`
	DisplayName    string   `json:"displayName,omitempty"`
	FavoriteGenres []string `json:"favoriteGenres"`
}

// ReviewedBook is one entry of the reader's review history.
type ReviewedBook struct {
	BookID string   `json:"bookId"`
	Title  string   `json:"title"`
	Genres []string `json:"genres"`
	Rating int      `json:"rating"`
}

// CatalogItem is one candidate book offered to the personalizer.
type CatalogItem struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Genres        []string `json:"genres"`
	AverageRating *float64 `json:"averageRating"`
}

// PersonalizationRequest is everything the personalizer sees about one reader.
type PersonalizationRequest struct {
	Profile   Profile        `json:"profile"`
	Reviews   []ReviewedBook `json:"reviews"`
	Favorites []CatalogItem  `json:"favorites"`
	Catalog   []CatalogItem  `json:"catalog"`
	Limit     int            `json:"limit"`
}

// Personalizer ranks catalog books for a reader. Failures are reported as
// errs.ErrExternalService and never reach end users.
type Personalizer interface {
	Rank(ctx context.Context, request PersonalizationRequest) ([]string, error)
}

// ClientConfig configures the OpenAI-compatible personalizer client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls a chat-completions endpoint and parses a ranked list of book ids out of
// the JSON answer. Calls go through a circuit breaker so an unavailable endpoint fails fast.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]string]
	logger     *zap.Logger
}

const (
	defaultBaseURL    = "https://api.openai.com"
	defaultModel      = "gpt-4o-mini"
	defaultTimeout    = 20 * time.Second
	breakerName       = "personalizer"
	chatCompletions   = "/v1/chat/completions"
	maxRetryBackoff   = 5 * time.Second
	personalizeSystem = "You recommend books. Answer with a JSON object {\"bookIds\": [...]} listing catalog ids from best to worst match for the reader. Use only ids present in the catalog."
)

// NewClient constructs a Client. An empty API key is rejected.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("personalizer: api key required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("personalizer circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string             `json:"model"`
	Messages       []chatMessage      `json:"messages"`
	ResponseFormat chatResponseFormat `json:"response_format"`
	Temperature    float64            `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type rankedAnswer struct {
	BookIDs []string `json:"bookIds"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("personalizer http %d: %s", e.StatusCode, e.Body)
}

// Rank asks the endpoint for a ranking of request.Catalog.
func (c *Client) Rank(ctx context.Context, request PersonalizationRequest) ([]string, error) {
	ids, err := c.breaker.Execute(func() ([]string, error) {
		return c.rank(ctx, request)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.PersonalizerRequests.WithLabelValues("rejected").Inc()
		} else {
			metrics.PersonalizerRequests.WithLabelValues("failure").Inc()
		}
		if errors.Is(err, errs.ErrExternalService) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrExternalService, err)
	}
	metrics.PersonalizerRequests.WithLabelValues("success").Inc()
	return ids, nil
}

func (c *Client) rank(ctx context.Context, request PersonalizationRequest) ([]string, error) {
	prompt, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode personalization request: %w", err)
	}
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: personalizeSystem},
			{Role: "user", Content: string(prompt)},
		},
		ResponseFormat: chatResponseFormat{Type: "json_object"},
		Temperature:    0.2,
	}

	var response chatResponse
	if err := c.do(ctx, http.MethodPost, chatCompletions, body, &response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: personalizer returned no choices", errs.ErrExternalService)
	}
	var answer rankedAnswer
	if err := json.Unmarshal([]byte(response.Choices[0].Message.Content), &answer); err != nil {
		return nil, fmt.Errorf("%w: malformed personalizer answer: %v", errs.ErrExternalService, err)
	}
	return answer.BookIDs, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &httpStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 250 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("%w: personalizer decode error: %v", errs.ErrExternalService, uErr)
			}
			return nil
		}
		if !isRetryable(err) || attempt >= c.maxRetries {
			return err
		}

		c.logger.Warn("personalizer request retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", c.maxRetries),
			zap.Duration("sleep", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
