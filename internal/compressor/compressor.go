// Package compressor implements the context compressor (spec §4.6):
// recursive LLM-summarization of older conversation batches behind a
// three-tier cache (incremental in-memory, LRU in-memory, durable KV),
// with single-flight de-duplication per conversation id.
package compressor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/tokencount"
)

// Config holds the compressor's trigger thresholds and cache parameters
// (spec §4.6).
type Config struct {
	Enabled               bool
	AutoCompress          bool
	MaxMessagesPerSession int           // default 200
	TokenThreshold        int           // default 100_000
	KeepCount             int           // default 30
	ToolLookback          int           // extra lookback when walking for a safe cut
	CacheTTL              time.Duration // default 30m
	LockTTL               time.Duration // default 120s
	SummaryModel          string        // cheapest thinking-capable model
	SummaryMaxTokens      int           // default 2048
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		AutoCompress:          true,
		MaxMessagesPerSession: 200,
		TokenThreshold:        100_000,
		KeepCount:             30,
		ToolLookback:          0,
		CacheTTL:              30 * time.Minute,
		LockTTL:               120 * time.Second,
		SummaryModel:          "claude-haiku-4-5",
		SummaryMaxTokens:      2048,
	}
}

// Summarizer produces a summary string for one batch of messages, given
// the previous batch's summary as chaining context (spec §4.6 Batching).
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, batch []gateway.Message) (string, error)
}

// CacheStore is the durable L3 tier (spec §3 Compressor cache entry, §4.6).
type CacheStore interface {
	GetSummary(ctx context.Context, key string) (summary string, ts time.Time, ok bool, err error)
	SetSummary(ctx context.Context, key, summary string, ts time.Time) error
	PruneSummaries(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// Stats exposes compressor counters for the admin/metrics surface.
type Stats struct {
	CacheHits    int64
	CacheMisses  int64
	Compressions int64
	Failures     int64
}

type l1Entry struct {
	key     string
	summary string
}

// Compressor implements spec §4.6 end to end: boundary selection, batching,
// chained concurrent summarization, structured-summary mining, and the
// three-tier cache with per-conversation single-flight.
type Compressor struct {
	cfg        Config
	summarizer Summarizer
	l2         *l2Cache
	l3         CacheStore
	sf         singleflight.Group

	l1mu sync.Mutex
	l1   map[string]l1Entry

	hits, misses, compressions, failures int64
}

// New creates a Compressor. l3 may be nil, in which case the durable tier
// is skipped (cache reads/writes degrade to L1/L2 only).
func New(cfg Config, summarizer Summarizer, l3 CacheStore) *Compressor {
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = 30
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 120 * time.Second
	}
	return &Compressor{
		cfg:        cfg,
		summarizer: summarizer,
		l2:         newL2Cache(),
		l3:         l3,
		l1:         make(map[string]l1Entry),
	}
}

// Stats returns a snapshot of the compressor's counters.
func (c *Compressor) Stats() Stats {
	return Stats{
		CacheHits:    atomic.LoadInt64(&c.hits),
		CacheMisses:  atomic.LoadInt64(&c.misses),
		Compressions: atomic.LoadInt64(&c.compressions),
		Failures:     atomic.LoadInt64(&c.failures),
	}
}

// ShouldCompress reports whether messages crosses either trigger threshold
// (spec §4.6): message count or estimated token count.
func (c *Compressor) ShouldCompress(messages []gateway.Message) bool {
	if !c.cfg.Enabled || !c.cfg.AutoCompress {
		return false
	}
	if len(messages) > c.cfg.MaxMessagesPerSession {
		return true
	}
	return estimateConversationTokens(messages) > c.cfg.TokenThreshold
}

// Compress returns messages with its compressible prefix replaced by a
// two-message synthetic summary turn, or messages unchanged if compression
// isn't triggered or yields nothing to compress. Failures degrade silently
// to a plain truncation (spec §4.6 Failure policy) rather than propagating
// an error to the caller.
func (c *Compressor) Compress(ctx context.Context, conversationID string, messages []gateway.Message) []gateway.Message {
	if !c.ShouldCompress(messages) {
		return messages
	}

	boundary := selectBoundary(messages, c.cfg.KeepCount, c.cfg.ToolLookback)
	if boundary <= 0 {
		return messages
	}
	toCompress := messages[:boundary]
	preserved := messages[boundary:]

	key := CacheKey(conversationID, toCompress)

	v, err, _ := c.sf.Do(conversationID, func() (any, error) {
		lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LockTTL)
		defer cancel()
		return c.resolve(lockCtx, key, toCompress)
	})
	if err != nil {
		atomic.AddInt64(&c.failures, 1)
		slog.LogAttrs(ctx, slog.LevelWarn, "context compression failed, falling back to truncation",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
		return truncate(messages, c.cfg.KeepCount)
	}

	combined := v.(string)
	head := []gateway.Message{
		{Role: gateway.RoleUser, Content: []gateway.ContentBlock{{
			Kind: gateway.BlockText,
			Text: "[Previous conversation summary]\n" + combined,
		}}},
		{Role: gateway.RoleAssistant, Content: []gateway.ContentBlock{{
			Kind: gateway.BlockText,
			Text: "I understand the context. Let me continue.",
		}}},
	}
	return append(head, preserved...)
}

// resolve reads the three-tier cache in order (L1 -> L2 -> L3), computing
// and back-filling on a full miss.
func (c *Compressor) resolve(ctx context.Context, key string, toCompress []gateway.Message) (string, error) {
	if e, ok := c.l1Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		return e, nil
	}
	if s, ok := c.l2.Get(key); ok {
		atomic.AddInt64(&c.hits, 1)
		c.l1Put(key, s)
		return s, nil
	}
	if c.l3 != nil {
		if s, ts, ok, err := c.l3.GetSummary(ctx, key); err == nil && ok {
			if time.Since(ts) < c.cfg.CacheTTL {
				atomic.AddInt64(&c.hits, 1)
				c.l1Put(key, s)
				c.l2.Set(key, s, c.cfg.CacheTTL)
				return s, nil
			}
		}
	}

	atomic.AddInt64(&c.misses, 1)
	summary, err := c.compute(ctx, toCompress)
	if err != nil {
		return "", err
	}

	atomic.AddInt64(&c.compressions, 1)
	c.l1Put(key, summary)
	c.l2.Set(key, summary, c.cfg.CacheTTL)
	if c.l3 != nil {
		if err := c.l3.SetSummary(ctx, key, summary, time.Now()); err != nil {
			slog.Warn("compressor L3 write failed", "error", err.Error())
		}
	}
	return summary, nil
}

// compute runs batch summarization and structured mining in parallel and
// joins them into the combined Markdown summary (spec §4.6).
func (c *Compressor) compute(ctx context.Context, toCompress []gateway.Message) (string, error) {
	batches := splitBatches(toCompress, maxBatchMessages, maxBatchChars)

	var narrative string
	var narrativeErr error
	var mined minedSummary

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		narrative, narrativeErr = c.narrativeSummary(ctx, batches)
	}()
	go func() {
		defer wg.Done()
		mined = mine(toCompress)
	}()
	wg.Wait()

	if narrativeErr != nil {
		return "", narrativeErr
	}
	return joinSummary(narrative, mined), nil
}

// narrativeSummary chains batch summaries through the Summarizer with a
// concurrency cap of 3 in-flight calls (spec §4.6 Batching).
func (c *Compressor) narrativeSummary(ctx context.Context, batches [][]gateway.Message) (string, error) {
	if len(batches) == 0 {
		return "", nil
	}
	summaries, err := c.summarizeChain(ctx, batches)
	if err != nil {
		return "", err
	}
	return strings.Join(summaries, "\n\n"), nil
}

func (c *Compressor) l1Get(key string) (string, bool) {
	c.l1mu.Lock()
	defer c.l1mu.Unlock()
	e, ok := c.l1[key]
	if !ok || e.key != key {
		return "", false
	}
	return e.summary, true
}

func (c *Compressor) l1Put(key, summary string) {
	c.l1mu.Lock()
	defer c.l1mu.Unlock()
	c.l1[key] = l1Entry{key: key, summary: summary}
}

// CacheKey derives the compressor cache key (spec §3, §8 Invariant 7):
// conversationId plus a short hash of the first 500 chars of every
// compressed message, joined by "|". Identical content under an identical
// conversation id yields a byte-identical key; any change to the first 500
// chars of any message changes it.
func CacheKey(conversationID string, compressed []gateway.Message) string {
	var b strings.Builder
	for i, m := range compressed {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(firstNChars(messageText(m), 500))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return conversationID + ":" + hex.EncodeToString(sum[:])[:16]
}

func messageText(m gateway.Message) string {
	var b strings.Builder
	for _, blk := range m.Content {
		switch blk.Kind {
		case gateway.BlockText:
			b.WriteString(blk.Text)
		case gateway.BlockToolResult:
			b.WriteString(blk.ToolResult)
		case gateway.BlockToolUse:
			b.WriteString(blk.ToolName)
			b.Write(blk.ToolInput)
		}
	}
	return b.String()
}

func firstNChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncate implements the compressor's failure-policy fallback: keep only
// the last keepCount messages (spec §4.6 Failure policy).
func truncate(messages []gateway.Message, keepCount int) []gateway.Message {
	if len(messages) <= keepCount {
		return messages
	}
	return messages[len(messages)-keepCount:]
}

func estimateConversationTokens(messages []gateway.Message) int {
	total := 0
	for _, m := range messages {
		total += tokencount.Count(messageText(m))
	}
	return total
}
