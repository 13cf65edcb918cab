// Package config holds recollect's validated, immutable configuration
// struct. It replaces the dynamically-typed config dict of the original
// system with an enumerated set of fields, in the spirit of the teacher's
// pkg/core Config/DefaultConfig pair, built once at startup via functional
// options.
package config

import "fmt"

// RecallStrategy selects how the Recall Engine scores fused candidates.
type RecallStrategy string

const (
	RecallStrategySimilarity RecallStrategy = "similarity"
	RecallStrategyWeighted   RecallStrategy = "weighted"
)

// RetrievalMode selects which channels the Recall Engine queries.
type RetrievalMode string

const (
	RetrievalModeHybrid RetrievalMode = "hybrid"
	RetrievalModeDense  RetrievalMode = "dense"
	RetrievalModeSparse RetrievalMode = "sparse"
)

// FusionStrategy names one of the nine fusion strategies from spec.md §4.4.
type FusionStrategy string

const (
	FusionRRF         FusionStrategy = "rrf"
	FusionHybridRRF    FusionStrategy = "hybrid_rrf"
	FusionWeighted     FusionStrategy = "weighted"
	FusionConvex       FusionStrategy = "convex"
	FusionInterleave   FusionStrategy = "interleave"
	FusionRankFusion   FusionStrategy = "rank_fusion"
	FusionBorda        FusionStrategy = "borda"
	FusionCascade      FusionStrategy = "cascade"
	FusionAdaptive     FusionStrategy = "adaptive"
)

// SessionManagerConfig covers the session_manager.* keys.
type SessionManagerConfig struct {
	MaxSessions int // session_manager.max_sessions
	SessionTTL  int // session_manager.session_ttl, seconds
}

// RecallEngineConfig covers the recall_engine.* keys.
type RecallEngineConfig struct {
	TopK             int            // recall_engine.top_k
	Strategy         RecallStrategy // recall_engine.recall_strategy
	RetrievalMode    RetrievalMode  // recall_engine.retrieval_mode
	SimilarityWeight float64        // recall_engine.similarity_weight
	ImportanceWeight float64        // recall_engine.importance_weight
	RecencyWeight    float64        // recall_engine.recency_weight
	RecencyTau       float64        // recency time constant τ in exp(-Δt/τ), days
}

// ReflectionEngineConfig covers the reflection_engine.* keys.
type ReflectionEngineConfig struct {
	SummaryTriggerRounds int     // reflection_engine.summary_trigger_rounds
	ImportanceThreshold  float64 // reflection_engine.importance_threshold
	EventExtractionPrompt string // reflection_engine.event_extraction_prompt
	EvaluationPrompt       string // reflection_engine.evaluation_prompt
	MaxRetries             int
}

// ForgettingAgentConfig covers the forgetting_agent.* keys.
type ForgettingAgentConfig struct {
	Enabled            bool
	CheckIntervalHours float64
	RetentionDays      float64
	ImportanceDecayRate float64
	ImportanceThreshold float64
	ForgettingBatchSize int
}

// FusionConfig covers the fusion.* keys.
type FusionConfig struct {
	Strategy          FusionStrategy
	RRFK              int
	DenseWeight       float64
	SparseWeight      float64
	ConvexLambda      float64
	InterleaveRatio   float64
	RankBiasFactor    float64
	DiversityBonus    float64
}

// SparseRetrieverConfig covers the sparse_retriever.* keys.
type SparseRetrieverConfig struct {
	Enabled             bool
	BM25K1              float64
	BM25B               float64
	UseWordSegmentation bool
}

// FilteringConfig covers the filtering_settings.* keys.
type FilteringConfig struct {
	UsePersonaFiltering bool
	UseSessionFiltering bool
}

// Config is the full validated configuration for an Engine.
type Config struct {
	Timezone string
	DataDir  string

	SessionManager  SessionManagerConfig
	RecallEngine    RecallEngineConfig
	ReflectionEngine ReflectionEngineConfig
	ForgettingAgent ForgettingAgentConfig
	Fusion          FusionConfig
	SparseRetriever SparseRetrieverConfig
	Filtering       FilteringConfig
}

// Option mutates a Config during construction, the same functional-options
// idiom the teacher uses for SparseConfigOption/HybridConfigOption.
type Option func(*Config)

// Default returns the default configuration, matching spec.md §6 defaults.
func Default() Config {
	return Config{
		Timezone: "UTC",
		DataDir:  "./recollect-data",
		SessionManager: SessionManagerConfig{
			MaxSessions: 1000,
			SessionTTL:  3600,
		},
		RecallEngine: RecallEngineConfig{
			TopK:             5,
			Strategy:         RecallStrategyWeighted,
			RetrievalMode:    RetrievalModeHybrid,
			SimilarityWeight: 0.5,
			ImportanceWeight: 0.2,
			RecencyWeight:    0.3,
			RecencyTau:       30,
		},
		ReflectionEngine: ReflectionEngineConfig{
			SummaryTriggerRounds: 3,
			ImportanceThreshold:  0.5,
			MaxRetries:           3,
		},
		ForgettingAgent: ForgettingAgentConfig{
			Enabled:             true,
			CheckIntervalHours:  24,
			RetentionDays:       90,
			ImportanceDecayRate: 0.005,
			ImportanceThreshold: 0.1,
			ForgettingBatchSize: 200,
		},
		Fusion: FusionConfig{
			Strategy:        FusionAdaptive,
			RRFK:            60,
			DenseWeight:     0.5,
			SparseWeight:    0.5,
			ConvexLambda:    0.5,
			InterleaveRatio: 0.5,
			RankBiasFactor:  0.05,
			DiversityBonus:  0.02,
		},
		SparseRetriever: SparseRetrieverConfig{
			Enabled:             true,
			BM25K1:              1.2,
			BM25B:               0.75,
			UseWordSegmentation: false,
		},
		Filtering: FilteringConfig{
			UsePersonaFiltering: true,
			UseSessionFiltering: false,
		},
	}
}

// New builds a Config from Default() plus opts, and validates it.
func New(opts ...Option) (Config, error) {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the enumerated invariants on Config's numeric fields.
// It does not renormalize weights that don't sum to 1 — per spec.md §4.5
// step 5, the engine warns instead (see recall engine) rather than silently
// rescaling the caller's configuration.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.SessionManager.MaxSessions <= 0 {
		return fmt.Errorf("config: session_manager.max_sessions must be positive")
	}
	if c.SessionManager.SessionTTL <= 0 {
		return fmt.Errorf("config: session_manager.session_ttl must be positive")
	}
	if c.RecallEngine.TopK <= 0 {
		return fmt.Errorf("config: recall_engine.top_k must be positive")
	}
	switch c.RecallEngine.Strategy {
	case RecallStrategySimilarity, RecallStrategyWeighted:
	default:
		return fmt.Errorf("config: recall_engine.recall_strategy %q invalid", c.RecallEngine.Strategy)
	}
	switch c.RecallEngine.RetrievalMode {
	case RetrievalModeHybrid, RetrievalModeDense, RetrievalModeSparse:
	default:
		return fmt.Errorf("config: recall_engine.retrieval_mode %q invalid", c.RecallEngine.RetrievalMode)
	}
	if c.ReflectionEngine.SummaryTriggerRounds <= 0 {
		return fmt.Errorf("config: reflection_engine.summary_trigger_rounds must be positive")
	}
	if c.ReflectionEngine.ImportanceThreshold < 0 || c.ReflectionEngine.ImportanceThreshold > 1 {
		return fmt.Errorf("config: reflection_engine.importance_threshold must be in [0,1]")
	}
	if c.ForgettingAgent.ForgettingBatchSize <= 0 {
		return fmt.Errorf("config: forgetting_agent.forgetting_batch_size must be positive")
	}
	if c.SparseRetriever.BM25K1 <= 0 || c.SparseRetriever.BM25B < 0 || c.SparseRetriever.BM25B > 1 {
		return fmt.Errorf("config: sparse_retriever bm25 parameters out of range")
	}
	switch c.Fusion.Strategy {
	case FusionRRF, FusionHybridRRF, FusionWeighted, FusionConvex, FusionInterleave,
		FusionRankFusion, FusionBorda, FusionCascade, FusionAdaptive:
	default:
		return fmt.Errorf("config: fusion.strategy %q invalid", c.Fusion.Strategy)
	}
	return nil
}

// WithDataDir sets the directory holding the persisted SQLite file.
func WithDataDir(dir string) Option { return func(c *Config) { c.DataDir = dir } }

// WithTopK sets recall_engine.top_k.
func WithTopK(k int) Option { return func(c *Config) { c.RecallEngine.TopK = k } }

// WithRecallStrategy sets recall_engine.recall_strategy.
func WithRecallStrategy(s RecallStrategy) Option {
	return func(c *Config) { c.RecallEngine.Strategy = s }
}

// WithFusionStrategy sets fusion.strategy.
func WithFusionStrategy(s FusionStrategy) Option {
	return func(c *Config) { c.Fusion.Strategy = s }
}

// WithSessionLimits sets session_manager.max_sessions and session_ttl.
func WithSessionLimits(maxSessions, ttlSeconds int) Option {
	return func(c *Config) {
		c.SessionManager.MaxSessions = maxSessions
		c.SessionManager.SessionTTL = ttlSeconds
	}
}

// WithForgetting sets the forgetting_agent.* group at once.
func WithForgetting(cfg ForgettingAgentConfig) Option {
	return func(c *Config) { c.ForgettingAgent = cfg }
}
