package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"requiem/internal/domain"
	"requiem/internal/jsonx"
	"requiem/internal/llm"
)

// DefaultConfidenceFloor and DefaultCacheTTL preserve the original
// policy values; they are configuration, not derived invariants.
const (
	DefaultConfidenceFloor = 0.55
	DefaultCacheTTL        = 60 * time.Second
)

const classifyTimeout = 30 * time.Second

type Options struct {
	ConfidenceFloor float64
	CacheTTL        time.Duration

	// Now is overridable for cache expiry tests.
	Now func() time.Time
}

type cacheEntry struct {
	expiresAt time.Time
	value     domain.Intent
}

// Classifier labels a message via a cheap backend call, with a short
// TTL cache keyed by normalized message text. Results are advisory
// routing hints: low-confidence output is clamped to "other" so it is
// never trusted for routing.
type Classifier struct {
	gen    llm.Generator
	floor  float64
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewClassifier(gen llm.Generator, opts Options, logger *slog.Logger) *Classifier {
	if opts.ConfidenceFloor <= 0 {
		opts.ConfidenceFloor = DefaultConfidenceFloor
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Classifier{
		gen:    gen,
		floor:  opts.ConfidenceFloor,
		ttl:    opts.CacheTTL,
		now:    opts.Now,
		logger: logger,
		cache:  make(map[string]cacheEntry),
	}
}

func classifyPrompt(text string) string {
	return "Return ONLY compact JSON.\n" +
		`Schema:{"intent":"greeting|question|instruction|config|memory|image|moderation|admin|other",` +
		`"confidence":0.0,"flags":{"needs_image":false,"needs_admin":false,"risky":false}}` + "\n" +
		fmt.Sprintf("Message:%q\nJSON:", text)
}

// Classify returns the intent for text. Malformed backend output
// resolves to a schema-valid default; only transport failures return
// an error.
func (c *Classifier) Classify(ctx context.Context, text string) (domain.Intent, error) {
	key := strings.ToLower(strings.TrimSpace(text))

	if hit, ok := c.lookup(key); ok {
		return hit, nil
	}

	out, err := c.gen.Generate(ctx, llm.GenRequest{
		Prompt:        classifyPrompt(text),
		MaxLength:     160,
		ContextLength: 1024,
		Temperature:   0.2,
		TopP:          0.95,
		Timeout:       classifyTimeout,
	})
	if err != nil {
		return domain.Intent{}, err
	}

	var it domain.Intent
	if !jsonx.ExtractInto(out, &it) {
		c.logger.Warn("classifier returned malformed json, using fallback", "raw_len", len(out))
		it = domain.Intent{Label: domain.IntentOther, Confidence: 0.5}
	}
	it = c.normalize(it)

	c.store(key, it)
	return it, nil
}

func (c *Classifier) lookup(key string) (domain.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok || !entry.expiresAt.After(c.now()) {
		return domain.Intent{}, false
	}
	return entry.value, true
}

func (c *Classifier) store(key string, it domain.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{expiresAt: c.now().Add(c.ttl), value: it}
}

var validLabels = map[string]struct{}{
	domain.IntentGreeting:    {},
	domain.IntentQuestion:    {},
	domain.IntentInstruction: {},
	domain.IntentConfig:      {},
	domain.IntentMemory:      {},
	domain.IntentImage:       {},
	domain.IntentModeration:  {},
	domain.IntentAdmin:       {},
	domain.IntentOther:       {},
}

// normalize clamps the label to the known set, applies the confidence
// floor, and guarantees the standard flag keys exist.
func (c *Classifier) normalize(it domain.Intent) domain.Intent {
	if _, ok := validLabels[it.Label]; !ok {
		it.Label = domain.IntentOther
	}
	if it.Confidence < c.floor {
		it.Label = domain.IntentOther
		it.Confidence = c.floor
	}
	if it.Confidence > 1 {
		it.Confidence = 1
	}
	if it.Flags == nil {
		it.Flags = make(map[string]bool, 3)
	}
	for _, flag := range []string{domain.FlagNeedsImage, domain.FlagNeedsAdmin, domain.FlagRisky} {
		if _, ok := it.Flags[flag]; !ok {
			it.Flags[flag] = false
		}
	}
	return it
}
