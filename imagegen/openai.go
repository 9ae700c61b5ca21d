package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig holds configuration for the OpenAI-compatible image provider.
type OpenAIConfig struct {
	APIKey         string        `env:"OPENAI_API_KEY,required"`
	APIBaseURL     string        `env:"OPENAI_API_BASE_URL" envDefault:"https://api.openai.com"`
	DefaultModel   string        `env:"OPENAI_IMAGE_MODEL" envDefault:"dall-e-3"`
	DefaultSize    string        `env:"OPENAI_IMAGE_SIZE" envDefault:"1024x1024"`
	RequestTimeout time.Duration `env:"OPENAI_REQUEST_TIMEOUT" envDefault:"120s"`
}

// OpenAIProvider implements Provider against the OpenAI images API.
// Provider error messages pass through verbatim so the caller sees the real
// upstream reason; nothing is retried here.
type OpenAIProvider struct {
	config OpenAIConfig
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI image provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.openai.com"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}

	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (Image, error) {
	model := req.Model
	if model == "" {
		model = p.config.DefaultModel
	}
	size := req.Size
	if size == "" {
		size = p.config.DefaultSize
	}

	body, err := json.Marshal(map[string]any{
		"prompt":          req.Prompt,
		"model":           model,
		"size":            size,
		"quality":         defaultString(req.Quality, "standard"),
		"style":           defaultString(req.Style, "vivid"),
		"n":               1,
		"response_format": "url",
	})
	if err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint("/v1/images/generations"), bytes.NewReader(body))
	if err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	url, err := p.do(httpReq)
	if err != nil {
		return Image{}, err
	}
	return Image{URL: url, Model: model}, nil
}

func (p *OpenAIProvider) Edit(ctx context.Context, req EditRequest) (Image, error) {
	model := req.Model
	if model == "" {
		model = "dall-e-2" // the edits endpoint does not accept dall-e-3
	}
	size := req.Size
	if size == "" {
		size = p.config.DefaultSize
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	imageName := req.ImageName
	if imageName == "" {
		imageName = "image.png"
	}
	part, err := form.CreateFormFile("image", imageName)
	if err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}
	if _, err := part.Write(req.Image); err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}

	fields := map[string]string{
		"prompt":          req.Prompt,
		"model":           model,
		"size":            size,
		"n":               "1",
		"response_format": "url",
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return Image{}, errors.Join(ErrProviderFailed, err)
		}
	}
	if err := form.Close(); err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint("/v1/images/edits"), &body)
	if err != nil {
		return Image{}, errors.Join(ErrProviderFailed, err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	url, err := p.do(httpReq)
	if err != nil {
		return Image{}, err
	}
	return Image{URL: url, Model: model}, nil
}

// do executes the request and extracts the first result URL. Upstream error
// messages are passed through so users see the provider's actual reason.
func (p *OpenAIProvider) do(req *http.Request) (string, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Join(ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrProviderFailed, apiErr.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d", ErrProviderFailed, resp.StatusCode)
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Join(ErrProviderFailed, err)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return "", fmt.Errorf("%w: no image returned", ErrProviderFailed)
	}
	return result.Data[0].URL, nil
}

func (p *OpenAIProvider) endpoint(path string) string {
	return strings.TrimSuffix(p.config.APIBaseURL, "/") + path
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
