package devotional

import (
	"bytes"
	"context"
	_ "embed"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

//go:embed prompt/devotional.md
var devotionalPromptRaw string

var devotionalPromptTmpl = template.Must(template.New("devotional").Parse(devotionalPromptRaw))

const (
	DefaultMaxAttempts    = 3
	DefaultWindowDays     = 30
	DefaultMinLength      = 50
	DefaultDiversityStep  = 0.1
	DefaultKnowledgeLimit = 15000
)

// Result is the outcome of one generation run
type Result struct {
	Content   string
	Reference *model.Reference
	// Attempts is the number of service calls made
	Attempts int
	// Fallback is true when Content came from the static pool
	Fallback bool
}

type state int

const (
	stateGenerating state = iota
	stateValidating
	stateValid
	stateRetry
	stateExhausted
)

func (s state) String() string {
	switch s {
	case stateGenerating:
		return "generating"
	case stateValidating:
		return "validating"
	case stateValid:
		return "valid"
	case stateRetry:
		return "retry"
	case stateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Generator produces a devotional whose citation was not used within the
// recency window. It holds no persisted state; callers record the result.
type Generator struct {
	history   citation.RecentSource
	service   Service
	validator *citation.Validator
	extractor *citation.Extractor

	knowledge      Knowledge
	knowledgeLimit int
	pool           *Pool
	maxAttempts    int
	windowDays     int
	minLength      int
	diversityStep  float64
	normalizer     citation.Normalizer

	mu            sync.RWMutex
	knowledgeText string
	initialized   bool
}

type Option func(*Generator)

func WithKnowledge(k Knowledge) Option {
	return func(g *Generator) {
		g.knowledge = k
	}
}

// WithKnowledgeLimit caps the knowledge text embedded in the prompt, in runes
func WithKnowledgeLimit(n int) Option {
	return func(g *Generator) {
		g.knowledgeLimit = n
	}
}

func WithPool(p *Pool) Option {
	return func(g *Generator) {
		g.pool = p
	}
}

func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		g.maxAttempts = n
	}
}

func WithWindowDays(days int) Option {
	return func(g *Generator) {
		g.windowDays = days
	}
}

func WithMinLength(n int) Option {
	return func(g *Generator) {
		g.minLength = n
	}
}

func WithDiversityStep(step float64) Option {
	return func(g *Generator) {
		g.diversityStep = step
	}
}

func WithNormalizer(n citation.Normalizer) Option {
	return func(g *Generator) {
		g.normalizer = n
	}
}

// NewGenerator creates a Generator reading recent citations from history
func NewGenerator(history citation.RecentSource, service Service, opts ...Option) *Generator {
	g := &Generator{
		history:        history,
		service:        service,
		extractor:      citation.NewExtractor(),
		knowledgeLimit: DefaultKnowledgeLimit,
		pool:           DefaultPool(),
		maxAttempts:    DefaultMaxAttempts,
		windowDays:     DefaultWindowDays,
		minLength:      DefaultMinLength,
		diversityStep:  DefaultDiversityStep,
		normalizer:     citation.Strict,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.maxAttempts < 1 {
		g.maxAttempts = 1
	}
	g.validator = citation.NewValidator(history, citation.WithNormalizer(g.normalizer))
	return g
}

// Init loads and caches the knowledge base. Generate calls it lazily when it
// was not called explicitly.
func (g *Generator) Init(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.initialized {
		return nil
	}

	text := ""
	if g.knowledge != nil {
		loaded, err := g.knowledge.Load(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to load knowledge base")
		}
		text = loaded
	}

	g.knowledgeText = text
	g.initialized = true
	logging.From(ctx).Info("devotional generator initialized", "knowledge_runes", utf8.RuneCountInString(text))
	return nil
}

// Close drops the cached knowledge base. A later Init reloads it.
func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.knowledgeText = ""
	g.initialized = false
	return nil
}

// Knowledge returns the cached knowledge base text
func (g *Generator) Knowledge(ctx context.Context) (string, error) {
	if err := g.Init(ctx); err != nil {
		return "", err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.knowledgeText, nil
}

func (g *Generator) buildPrompt(dateLabel, knowledge string, excluded []string) (string, error) {
	var buf bytes.Buffer
	if err := devotionalPromptTmpl.Execute(&buf, map[string]any{
		"Date":      dateLabel,
		"Knowledge": TruncateRunes(knowledge, g.knowledgeLimit),
		"Excluded":  excluded,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute devotional prompt template")
	}
	return buf.String(), nil
}

// Generate runs the retry loop for dateLabel. Only a failure to read history is
// returned as an error; generation failures end in a pool fallback.
func (g *Generator) Generate(ctx context.Context, dateLabel string) (*Result, error) {
	logger := logging.From(ctx)

	knowledge, err := g.Knowledge(ctx)
	if err != nil {
		logger.Warn("knowledge base unavailable, generating without it", "error", err)
		knowledge = ""
	}

	exclusions, err := g.history.QueryRecent(ctx, g.windowDays)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query recent citations", goerr.V("window_days", g.windowDays))
	}
	excluded := make([]string, 0, len(exclusions))
	for _, ref := range exclusions {
		excluded = append(excluded, ref.Citation)
	}

	prompt, err := g.buildPrompt(dateLabel, knowledge, excluded)
	if err != nil {
		return nil, err
	}

	var (
		attempt   int
		candidate string
		ref       *model.Reference
		current   = stateGenerating
	)

	for {
		switch current {
		case stateGenerating:
			text, err := g.service.Generate(ctx, &Request{
				Prompt:            prompt,
				ExcludedCitations: excluded,
				Diversity:         g.diversityStep * float64(attempt),
			})
			if err != nil {
				logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)
				current = stateRetry
				continue
			}
			candidate = text
			current = stateValidating

		case stateValidating:
			ref = g.extractor.Extract(candidate)
			switch {
			case ref == nil:
				logger.Info("candidate has no citation", "attempt", attempt+1)
				current = stateRetry
			case utf8.RuneCountInString(candidate) < g.minLength:
				logger.Info("candidate is too short", "attempt", attempt+1, "length", utf8.RuneCountInString(candidate))
				current = stateRetry
			case g.validator.Contains(exclusions, ref.Citation):
				logger.Info("candidate citation was used recently", "attempt", attempt+1, "citation", ref.Citation)
				current = stateRetry
			default:
				current = stateValid
			}

		case stateValid:
			logger.Info("devotional generated", "attempts", attempt+1, "citation", ref.Citation)
			return &Result{
				Content:   candidate,
				Reference: ref,
				Attempts:  attempt + 1,
			}, nil

		case stateRetry:
			attempt++
			if attempt >= g.maxAttempts {
				current = stateExhausted
			} else {
				current = stateGenerating
			}

		case stateExhausted:
			content := g.pool.Pick(dateLabel)
			fallbackRef := g.extractor.Extract(content)
			attrs := []any{"attempts", attempt}
			if fallbackRef != nil {
				attrs = append(attrs, "citation", fallbackRef.Citation)
			}
			logger.Warn("generation exhausted, using fallback devotional", attrs...)
			return &Result{
				Content:   content,
				Reference: fallbackRef,
				Attempts:  attempt,
				Fallback:  true,
			}, nil

		default:
			return nil, goerr.New("unexpected generator state", goerr.V("state", current.String()))
		}
	}
}
