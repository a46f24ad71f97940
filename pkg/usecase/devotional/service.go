package devotional

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/model"
	"google.golang.org/genai"
)

// Request is one call to the generation service
type Request struct {
	Prompt            string
	ExcludedCitations []string
	// Diversity is added to the service's base sampling temperature
	Diversity float64
}

// Service produces candidate text. Failures wrap model.ErrGenerationTimeout or
// model.ErrGenerationFailed; an empty answer is a failure.
type Service interface {
	Generate(ctx context.Context, req *Request) (string, error)
}

const (
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
	maxTemperature     = 2.0
	maxOutputTokens    = 1024
)

// GeminiService implements Service on top of adapter.Gemini
type GeminiService struct {
	gemini      adapter.Gemini
	temperature float64
	timeout     time.Duration
}

type GeminiServiceOption func(*GeminiService)

func WithTemperature(t float64) GeminiServiceOption {
	return func(s *GeminiService) {
		s.temperature = t
	}
}

// WithTimeout bounds each Generate call
func WithTimeout(d time.Duration) GeminiServiceOption {
	return func(s *GeminiService) {
		s.timeout = d
	}
}

func NewGeminiService(gemini adapter.Gemini, opts ...GeminiServiceOption) *GeminiService {
	s := &GeminiService{
		gemini:      gemini,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GeminiService) Generate(ctx context.Context, req *Request) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	temperature := float32(min(s.temperature+req.Diversity, maxTemperature))
	topP := float32(0.95)
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: maxOutputTokens,
	}
	if len(req.ExcludedCitations) > 0 {
		config.SystemInstruction = genai.NewContentFromText(
			"Não use nenhuma destas referências bíblicas, pois foram enviadas recentemente: "+
				strings.Join(req.ExcludedCitations, "; ")+".",
			genai.RoleUser,
		)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := s.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", goerr.Wrap(errors.Join(model.ErrGenerationTimeout, err), "generation timed out", goerr.V("timeout", s.timeout))
		}
		return "", goerr.Wrap(errors.Join(model.ErrGenerationFailed, err), "generation failed")
	}

	text := ""
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return "", goerr.Wrap(model.ErrGenerationFailed, "generation returned empty text")
	}
	return text, nil
}
