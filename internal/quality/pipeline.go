package quality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/dedup"
	"github.com/quizforge/question-harvester/internal/fingerprint"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// PipelineConfig wires thresholds and the optional publish topic.
type PipelineConfig struct {
	Thresholds Thresholds
	// Topic receives accepted-item events; empty disables publishing.
	Topic string
}

// Pipeline turns RawItems into ProcessedItems: fingerprint, score, gate,
// duplicate analysis, persistence, and the accepted-item event. Each item
// passes through exactly once.
type Pipeline struct {
	validator *Validator
	detector  *dedup.Detector
	store     harvest.ItemStore
	publisher harvest.Publisher
	hasher    *fingerprint.Hasher
	idGen     harvest.IDGenerator
	clock     harvest.Clock
	cfg       PipelineConfig
	logger    *zap.Logger
}

// NewPipeline constructs a Pipeline. The publisher may be nil.
func NewPipeline(
	validator *Validator,
	detector *dedup.Detector,
	store harvest.ItemStore,
	publisher harvest.Publisher,
	hasher *fingerprint.Hasher,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		validator: validator,
		detector:  detector,
		store:     store,
		publisher: publisher,
		hasher:    hasher,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process runs one item through the admission pipeline and returns the
// processed record. Storage errors are returned so the job layer can apply
// its retry policy; scoring and duplicate outcomes never error.
func (p *Pipeline) Process(ctx context.Context, raw harvest.RawItem) (harvest.ProcessedItem, error) {
	start := p.clock.Now()

	id, err := p.idGen.NewID()
	if err != nil {
		return harvest.ProcessedItem{}, fmt.Errorf("item id: %w", err)
	}
	fp, err := p.hasher.Question(raw.Question)
	if err != nil {
		return harvest.ProcessedItem{}, fmt.Errorf("fingerprint: %w", err)
	}

	score := p.validator.Score(ctx, raw)
	item := harvest.ProcessedItem{
		ID:          id,
		Raw:         raw,
		Fingerprint: fp,
		Score:       score.Value,
		Decision:    Gate(score, p.cfg.Thresholds),
		ProcessedAt: start,
	}

	if item.Decision != harvest.DecisionReject {
		p.applyDuplicatePolicy(ctx, &item)
	}
	item.ProcessedIn = p.clock.Now().Sub(start)

	if item.Decision != harvest.DecisionReject {
		if err := p.store.PutItem(ctx, item); err != nil {
			return harvest.ProcessedItem{}, harvest.Wrap(harvest.CodeStorageFailure, err, "persist item")
		}
		p.detector.Add(item.ID, raw.SourceID, raw.Question, item.ClusterID)
	}

	telemetry.ObserveItem(raw.SourceID, string(item.Decision))
	if item.Decision == harvest.DecisionAccept {
		p.publishAccepted(ctx, item)
	}
	return item, nil
}

// applyDuplicatePolicy rejects same-source duplicates and tags cross-source
// ones, which are reported rather than dropped because the content really
// does exist in more than one place.
func (p *Pipeline) applyDuplicatePolicy(ctx context.Context, item *harvest.ProcessedItem) {
	raw := item.Raw
	if existing, err := p.store.FindByFingerprint(ctx, raw.SourceID, item.Fingerprint); err != nil {
		p.logger.Warn("fingerprint lookup failed", zap.String("source", raw.SourceID), zap.Error(err))
	} else if len(existing) > 0 {
		item.Decision = harvest.DecisionReject
		item.ClusterID = existing[0].ClusterID
		telemetry.ObserveDuplicate(raw.SourceID, "exact")
		return
	}

	match := p.detector.FindDuplicates(item.ID, raw.SourceID, raw.Question)
	if !match.IsDuplicate {
		return
	}
	item.ClusterID = match.ClusterID
	if item.ClusterID == "" {
		item.ClusterID = "cluster-" + match.BestMatchID
	}
	if match.CrossSource {
		item.CrossSource = true
		telemetry.ObserveDuplicate(raw.SourceID, "cross_source")
		return
	}
	item.Decision = harvest.DecisionReject
	telemetry.ObserveDuplicate(raw.SourceID, "same_source")
}

func (p *Pipeline) publishAccepted(ctx context.Context, item harvest.ProcessedItem) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"item_id":      item.ID,
		"job_id":       item.Raw.JobID,
		"source_id":    item.Raw.SourceID,
		"fingerprint":  item.Fingerprint,
		"score":        item.Score,
		"cluster_id":   item.ClusterID,
		"cross_source": item.CrossSource,
		"processed_at": item.ProcessedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.Topic, payload); err != nil {
		p.logger.Warn("accepted-item publish failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}
