package compressor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	gateway "github.com/tbuijibing/KiroGate/internal"
	"github.com/tbuijibing/KiroGate/internal/classify"
	"github.com/tbuijibing/KiroGate/internal/credpool"
	"github.com/tbuijibing/KiroGate/internal/eventstream"
	"github.com/tbuijibing/KiroGate/internal/format"
	"github.com/tbuijibing/KiroGate/internal/upstream"
)

// UpstreamSummarizer implements Summarizer by round-tripping each batch
// through the upstream vendor itself (spec §4.6: "Summarize batches ...
// using the upstream itself"), acquiring a credential from the shared pool
// for the duration of the call like any other request.
type UpstreamSummarizer struct {
	Pool      *credpool.Pool
	Client    *upstream.Client
	Model     string
	MaxTokens int
}

// Summarize builds a summarization prompt from batch (chained with
// priorSummary as context), sends it to the upstream non-streaming, and
// returns the accumulated text.
func (s *UpstreamSummarizer) Summarize(ctx context.Context, priorSummary string, batch []gateway.Message) (string, error) {
	model := s.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	cred := s.Pool.Acquire(model)
	if cred == nil {
		return "", gateway.ErrNoCredential
	}
	defer s.Pool.Release(cred.ID)

	prompt := buildSummaryPrompt(priorSummary, batch)
	payload := &gateway.CanonicalPayload{
		ConversationID: "compressor-" + uuid.NewString(),
		CurrentUserMessage: gateway.Message{
			Role:    gateway.RoleUser,
			Content: []gateway.ContentBlock{{Kind: gateway.BlockText, Text: prompt}},
		},
		Inference: gateway.InferenceConfig{
			Model:     model,
			MaxTokens: maxTokens,
		},
	}

	body, err := format.BuildUpstreamRequest(payload)
	if err != nil {
		return "", fmt.Errorf("compressor: build summarization request: %w", err)
	}

	start := time.Now()
	result := s.Client.Stream(ctx, cred, model, body, false)

	var sb strings.Builder
	for ev := range result.Events {
		if ev.Kind == eventstream.KindText {
			sb.WriteString(ev.Text)
		}
	}

	if err := result.Err(); err != nil {
		kind := classify.Classify(0, err.Error())
		s.Pool.RecordError(cred.ID, credpool.ErrorKindFromClassify(kind))
		return "", fmt.Errorf("compressor: summarization call failed: %w", err)
	}

	s.Pool.RecordSuccess(cred.ID, result.Usage().TotalTokens(), time.Since(start))
	return sb.String(), nil
}

// buildSummaryPrompt composes the summarization instruction for one batch,
// targeting a length proportional to the batch's source size (spec §4.6:
// "target length ≈ 0.15 · sourceChars").
func buildSummaryPrompt(priorSummary string, batch []gateway.Message) string {
	var source strings.Builder
	for _, m := range batch {
		source.WriteString(string(m.Role))
		source.WriteString(": ")
		source.WriteString(messageText(m))
		source.WriteString("\n")
	}
	sourceChars := source.Len()
	target := int(float64(sourceChars) * 0.15)
	if target < 100 {
		target = 100
	}

	var b strings.Builder
	if priorSummary != "" {
		b.WriteString("Prior summary of earlier parts of this conversation:\n")
		b.WriteString(priorSummary)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Summarize the following conversation excerpt in approximately %d characters, preserving concrete facts, file names, and decisions:\n\n", target)
	b.WriteString(source.String())
	return b.String()
}
