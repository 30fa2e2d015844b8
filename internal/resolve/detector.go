package resolve

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/similarity"
)

const (
	DefaultSimilarityThreshold = 0.7
	DefaultCandidateWindow     = 72 * time.Hour
	DefaultCandidateLimit      = 300
)

type Decision string

const (
	DecisionNew       Decision = "new"
	DecisionDuplicate Decision = "duplicate"
	DecisionUpdate    Decision = "update"
)

const (
	SignalFingerprint     = "fingerprint"
	SignalSignature       = "signature"
	SignalSimilarity      = "similarity"
	SignalBelowThreshold  = "below_threshold"
	SignalNoCandidates    = "no_candidates"
	SignalFetchFailed     = "candidate_fetch_failed"
	SignalInsertCollision = "insert_collision"
)

// Classification is the outcome of one detection pass.
type Classification struct {
	Decision   Decision
	Target     *model.Event
	TargetID   int64
	Signal     string
	Score      float64
	Reasons    []string
	Candidates int
	Warnings   []DataQualityWarning
}

type DetectorOptions struct {
	Threshold      float64
	Window         time.Duration
	CandidateLimit int
}

func normalizeDetectorOptions(opts DetectorOptions) DetectorOptions {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultSimilarityThreshold
	}
	if opts.Window <= 0 {
		opts.Window = DefaultCandidateWindow
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = DefaultCandidateLimit
	}
	return opts
}

// Detector classifies an incoming article as NEW, DUPLICATE or UPDATE of an existing event.
type Detector struct {
	reader EventReader
	scorer *similarity.Scorer
	opts   DetectorOptions
	logger zerolog.Logger
}

func NewDetector(reader EventReader, scorer *similarity.Scorer, opts DetectorOptions, logger zerolog.Logger) *Detector {
	if scorer == nil {
		scorer = similarity.NewScorer(similarity.DefaultWeights())
	}
	return &Detector{
		reader: reader,
		scorer: scorer,
		opts:   normalizeDetectorOptions(opts),
		logger: logger,
	}
}

// Classify never fails: lookup errors degrade toward NEW and are reported as warnings.
func (d *Detector) Classify(ctx context.Context, a model.Article, fingerprint, sig string) Classification {
	var warnings []DataQualityWarning

	if fingerprint != "" {
		contribution, found, err := d.reader.FindContribution(ctx, fingerprint)
		switch {
		case err != nil:
			warnings = append(warnings, d.warn("fingerprint", "ledger lookup failed", err))
		case found:
			return Classification{
				Decision: DecisionDuplicate,
				TargetID: contribution.EventID,
				Signal:   SignalFingerprint,
				Score:    1,
				Warnings: warnings,
			}
		}
	}

	if sig != "" {
		event, found, err := d.reader.FindEventBySignature(ctx, sig)
		switch {
		case err != nil:
			warnings = append(warnings, d.warn("signature", "signature lookup failed", err))
		case found:
			return Classification{
				Decision: DecisionUpdate,
				Target:   &event,
				TargetID: event.ID,
				Signal:   SignalSignature,
				Score:    1,
				Reasons:  []string{"signature_match=1.00"},
				Warnings: warnings,
			}
		}
	}

	// Candidates are events last seen in the window trailing the article.
	at := a.PublishedAt
	if at.IsZero() {
		at = globaltime.UTC()
	}
	candidates, err := d.reader.ListCandidateEvents(ctx, CandidateQuery{
		Country: a.Country,
		From:    at.Add(-d.opts.Window),
		To:      at,
		Limit:   d.opts.CandidateLimit,
	})
	if err != nil {
		warnings = append(warnings, d.warn("candidates", "candidate fetch failed, classifying as new", err))
		return Classification{Decision: DecisionNew, Signal: SignalFetchFailed, Warnings: warnings}
	}
	if len(candidates) == 0 {
		return Classification{Decision: DecisionNew, Signal: SignalNoCandidates, Warnings: warnings}
	}

	incoming := similarity.FromArticle(a, sig)
	var (
		best       *model.Event
		bestResult similarity.Result
	)
	for i := range candidates {
		candidate := candidates[i]
		result := d.scorer.Score(incoming, similarity.FromEvent(candidate))
		if best == nil ||
			result.Value > bestResult.Value ||
			(result.Value == bestResult.Value && candidate.LastSeenAt.After(best.LastSeenAt)) {
			best = &candidates[i]
			bestResult = result
		}
	}

	out := Classification{
		Decision:   DecisionNew,
		Signal:     SignalBelowThreshold,
		Score:      bestResult.Value,
		Reasons:    bestResult.Reasons,
		Candidates: len(candidates),
		Warnings:   warnings,
	}
	if bestResult.Value >= d.opts.Threshold {
		out.Decision = DecisionUpdate
		out.Signal = SignalSimilarity
		out.Target = best
		out.TargetID = best.ID
	}
	return out
}

func (d *Detector) warn(field, message string, err error) DataQualityWarning {
	d.logger.Warn().Err(err).Str("field", field).Msg(message)
	return DataQualityWarning{Field: field, Message: message}
}
