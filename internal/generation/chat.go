package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// markdownImage matches ![alt](url) and captures the URL.
var markdownImage = regexp.MustCompile(`!\[[^\]]*\]\(\s*([^)\s]+)(?:\s+"[^"]*")?\s*\)`)

// ChatBackend speaks an OpenAI-style streamed chat completion protocol and
// extracts image URLs from the streamed answer.
type ChatBackend struct {
	url         string
	apiKey      string
	client      *http.Client
	maxTokens   int
	temperature float64
}

// NewChatBackend creates a backend posting to a chat completions url.
func NewChatBackend(url, apiKey string, client *http.Client, maxTokens int, temperature float64) *ChatBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &ChatBackend{
		url:         url,
		apiKey:      apiKey,
		client:      client,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Kind implements Backend.
func (b *ChatBackend) Kind() Kind {
	return KindChat
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a string for text-only prompts and a []chatPart otherwise.
	Content any `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	URL   string          `json:"url"`
	Image string          `json:"image"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func buildChatMessages(req Request) []chatMessage {
	prompt := req.Prompt
	if req.AspectRatio != "" {
		prompt = fmt.Sprintf("%s\n\nAspect ratio: %s", prompt, req.AspectRatio)
	}
	if req.ImageSize != "" {
		prompt = fmt.Sprintf("%s\nImage size: %s", prompt, req.ImageSize)
	}

	if len(req.ReferenceImages) == 0 {
		return []chatMessage{{Role: "user", Content: prompt}}
	}

	parts := make([]chatPart, 0, len(req.ReferenceImages)+1)
	parts = append(parts, chatPart{Type: "text", Text: prompt})
	for _, img := range req.ReferenceImages {
		parts = append(parts, chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: img}})
	}
	return []chatMessage{{Role: "user", Content: parts}}
}

// Generate implements Backend.
func (b *ChatBackend) Generate(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	resp, err := postJSON(ctx, b.client, b.url, b.apiKey, chatRequest{
		Model:       req.Model,
		Messages:    buildChatMessages(req),
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		content  strings.Builder
		fieldURL []string
		reported bool
	)

	parsed, err := readStream(ctx, resp.Body, func(raw []byte) (bool, error) {
		var chunk chatChunk
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return false, nil
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return true, fmt.Errorf("%w: %s", ErrGenerationFailed, chunk.Error.Message)
		}

		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
			content.WriteString(choice.Message.Content)
		}
		fieldURL = append(fieldURL, chunkFieldURLs(chunk)...)

		if !reported && progress != nil {
			reported = true
			progress(ctx, ScaleProgress(25), PhaseMessage(25))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if parsed == 0 {
		return nil, ErrMalformedStream
	}

	urls := dedupe(append(ExtractMarkdownImageURLs(content.String()), fieldURL...))
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no image url in response", ErrNoImage)
	}
	return &Result{URLs: urls}, nil
}

// ExtractMarkdownImageURLs returns the targets of every Markdown image link
// in text, in order of appearance.
func ExtractMarkdownImageURLs(text string) []string {
	matches := markdownImage.FindAllStringSubmatch(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[1])
	}
	return urls
}

// chunkFieldURLs reads the structured URL fields of a chunk: top-level url,
// then image, then data.url (data may also be a list of {url} objects).
func chunkFieldURLs(chunk chatChunk) []string {
	var urls []string
	if chunk.URL != "" {
		urls = append(urls, chunk.URL)
	}
	if chunk.Image != "" {
		urls = append(urls, chunk.Image)
	}
	if len(chunk.Data) == 0 {
		return urls
	}

	var single struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(chunk.Data, &single); err == nil {
		if single.URL != "" {
			urls = append(urls, single.URL)
		}
		return urls
	}

	var list []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(chunk.Data, &list); err == nil {
		for _, item := range list {
			if item.URL != "" {
				urls = append(urls, item.URL)
			}
		}
	}
	return urls
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
