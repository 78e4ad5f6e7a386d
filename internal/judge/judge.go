// Package judge turns oracle replies into approve/reject verdicts and
// enforces their output format.
package judge

import (
	"context"
	"fmt"
	"time"

	"post-curator/internal/llm"
	"post-curator/internal/metrics"
	"post-curator/internal/models"
	"post-curator/internal/prompt"

	"go.uber.org/zap"
)

// InstructionSource supplies the current base instruction.
type InstructionSource interface {
	Instruction() string
}

// Config tunes the two judge modes.
type Config struct {
	Model                string
	ReasoningEffort      string
	QuickModel           string
	QuickReasoningEffort string
	MaxExamplesPerType   int
	ExampleTextLimit     int
}

// Result is the outcome of one evaluation.
type Result struct {
	Quote      string `json:"quote"`
	Approved   bool   `json:"approved"`
	Score      int    `json:"score"`
	CallHandle string `json:"call_handle,omitempty"`
}

// QuickResult is the outcome of a quick filter call.
type QuickResult struct {
	Approved        bool   `json:"approved"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// EvaluateOptions carries per-call context.
type EvaluateOptions struct {
	Examples []models.FewShotExample
	// PreviousCallHandle continues the calibration conversation when set.
	PreviousCallHandle string
	// PreviouslyApproved turns a rejection into a *DowngradeError.
	PreviouslyApproved bool
}

// Judge evaluates posts against the persona instruction.
type Judge struct {
	oracle      llm.Oracle
	instruction InstructionSource
	quick       InstructionSource
	composer    prompt.Composer
	cfg         Config
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// New creates a judge. quick may be nil, in which case QuickFilter uses
// the main instruction.
func New(oracle llm.Oracle, instruction, quick InstructionSource, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Judge {
	if quick == nil {
		quick = instruction
	}
	return &Judge{
		oracle:      oracle,
		instruction: instruction,
		quick:       quick,
		composer: prompt.Composer{
			MaxPerType: cfg.MaxExamplesPerType,
			TextLimit:  cfg.ExampleTextLimit,
		},
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Evaluate judges text. Oracle errors are returned wrapped with their kind
// intact; format violations are *MalformedResponseError and carry the call
// handle so the caller can still advance the conversation.
func (j *Judge) Evaluate(ctx context.Context, text string, opts EvaluateOptions) (*Result, error) {
	req := llm.Request{
		SystemInstruction: j.composer.Compose(j.instruction.Instruction(), opts.Examples),
		UserText:          text,
		Model:             j.cfg.Model,
		ReasoningEffort:   j.cfg.ReasoningEffort,
		PreviousCallID:    opts.PreviousCallHandle,
	}

	start := time.Now()
	resp, err := j.oracle.Call(ctx, req)
	if err != nil {
		j.metrics.JudgeCall("evaluate", metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	approved, score, reason := parseVerdict(resp.OutputText)
	if reason != "" {
		j.metrics.JudgeCall("evaluate", metrics.OutcomeMalformed, time.Since(start))
		j.logger.Warn("Malformed judge response",
			zap.String("reason", reason),
			zap.String("raw", resp.OutputText),
			zap.String("call_handle", resp.CallID))
		return nil, &MalformedResponseError{
			Raw:        resp.OutputText,
			Reason:     reason,
			CallHandle: resp.CallID,
		}
	}

	result := &Result{
		Quote:      resp.OutputText,
		Approved:   approved,
		Score:      score,
		CallHandle: resp.CallID,
	}

	outcome := metrics.OutcomeRejected
	if approved {
		outcome = metrics.OutcomeApproved
	}
	j.metrics.JudgeCall("evaluate", outcome, time.Since(start))

	if opts.PreviouslyApproved && !approved {
		return nil, &DowngradeError{Result: result}
	}
	return result, nil
}

// QuickFilter is a cheaper screening call: lower effort, the narrower quick
// instruction, no examples and no conversation chaining.
func (j *Judge) QuickFilter(ctx context.Context, text string) (*QuickResult, error) {
	model := j.cfg.QuickModel
	if model == "" {
		model = j.cfg.Model
	}
	effort := j.cfg.QuickReasoningEffort
	if effort == "" {
		effort = "minimal"
	}

	start := time.Now()
	resp, err := j.oracle.Call(ctx, llm.Request{
		SystemInstruction: j.quick.Instruction(),
		UserText:          text,
		Model:             model,
		ReasoningEffort:   effort,
	})
	if err != nil {
		j.metrics.JudgeCall("quick_filter", metrics.OutcomeError, time.Since(start))
		return nil, fmt.Errorf("quick filter call failed: %w", err)
	}

	approved, rejection, reason := parseQuickVerdict(resp.OutputText)
	if reason != "" {
		j.metrics.JudgeCall("quick_filter", metrics.OutcomeMalformed, time.Since(start))
		j.logger.Warn("Malformed quick filter response",
			zap.String("reason", reason),
			zap.String("raw", resp.OutputText))
		return nil, &MalformedResponseError{Raw: resp.OutputText, Reason: reason, CallHandle: resp.CallID}
	}

	outcome := metrics.OutcomeRejected
	if approved {
		outcome = metrics.OutcomeApproved
	}
	j.metrics.JudgeCall("quick_filter", outcome, time.Since(start))

	return &QuickResult{Approved: approved, RejectionReason: rejection}, nil
}
