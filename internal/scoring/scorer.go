// Package scoring turns a (correct, submitted) answer pair into a 0-2
// quality score. Resolution order: cache, fast heuristics, remote oracle,
// deterministic local fallback. The adapter never fails: any remote error
// degrades to the fallback path.
package scoring

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/metrics"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

const (
	SourceLLM          = "llm"
	SourceExact        = "fallback_exact"
	SourceSynonym      = "fallback_synonym"
	SourceContains     = "fallback_contains"
	SourceSemanticLite = "fallback_semantic_lite"
	SourceTimeout      = "timeout"
)

type Result struct {
	Score  int    `json:"score"`
	Source string `json:"source"`
}

type Config struct {
	APIURL   string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
	Enabled  bool
}

type Scorer struct {
	db  *gorm.DB
	cfg Config
	log *zap.Logger

	client *http.Client

	mu  sync.Mutex
	l1  map[string]cachedResult
	now func() time.Time

	synonyms map[string][]string
}

type cachedResult struct {
	result    Result
	expiresAt time.Time
}

func New(db *gorm.DB, cfg Config, log *zap.Logger) *Scorer {
	return &Scorer{
		db:     db,
		cfg:    cfg,
		log:    log,
		client: &http.Client{Timeout: cfg.Timeout},
		l1:     make(map[string]cachedResult),
		now:    time.Now,
		synonyms: map[string][]string{
			"hello":        {"hi", "hey"},
			"car":          {"automobile", "vehicle"},
			"house":        {"home"},
			"friend":       {"mate", "buddy"},
			"dog":          {"puppy", "hound"},
			"cat":          {"kitty", "kitten"},
			"thank you":    {"thanks", "thx"},
			"good morning": {"morning"},
			"good night":   {"night"},
		},
	}
}

// Score resolves the pair through the cascade. ctx bounds only the database
// lookups; the remote call runs under its own hard timeout so a caller
// hanging up cannot shorten or extend the oracle budget.
func (s *Scorer) Score(ctx context.Context, correct, submitted string) Result {
	key := fingerprint(correct, submitted)

	if cached, ok := s.loadCached(ctx, key); ok {
		return cached
	}

	if quick, ok := s.quickMatch(correct, submitted); ok {
		s.storeCached(ctx, key, quick)
		return quick
	}

	if remote, ok := s.callRemote(correct, submitted); ok {
		s.storeCached(ctx, key, remote)
		return remote
	}

	fallback := s.semanticLite(correct, submitted)
	s.storeCached(ctx, key, fallback)
	return fallback
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func fingerprint(correct, submitted string) string {
	sum := sha256.Sum256([]byte(normalize(correct) + "::" + normalize(submitted)))
	return hex.EncodeToString(sum[:])
}

func (s *Scorer) loadCached(ctx context.Context, key string) (Result, bool) {
	now := s.now()

	s.mu.Lock()
	if entry, ok := s.l1[key]; ok && entry.expiresAt.After(now) {
		s.mu.Unlock()
		return entry.result, true
	}
	s.mu.Unlock()

	var row store.ScoreCache
	err := s.db.WithContext(ctx).First(&row, "cache_key = ?", key).Error
	if err != nil || !row.ExpiresAt.After(now) {
		return Result{}, false
	}

	result := Result{Score: row.Score, Source: row.Source}
	s.mu.Lock()
	s.l1[key] = cachedResult{result: result, expiresAt: row.ExpiresAt}
	s.mu.Unlock()
	return result, true
}

func (s *Scorer) storeCached(ctx context.Context, key string, result Result) {
	expires := s.now().Add(s.cfg.CacheTTL)

	s.mu.Lock()
	s.l1[key] = cachedResult{result: result, expiresAt: expires}
	s.mu.Unlock()

	row := store.ScoreCache{
		CacheKey:  key,
		Score:     result.Score,
		Source:    result.Source,
		CreatedAt: s.now().UTC(),
		ExpiresAt: expires,
	}
	err := s.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		s.log.Warn("score cache write failed", zap.Error(err))
	}
}

func (s *Scorer) quickMatch(correct, submitted string) (Result, bool) {
	c := normalize(correct)
	a := normalize(submitted)

	if a == c && c != "" {
		return Result{Score: 2, Source: SourceExact}, true
	}

	if containsWord(s.synonyms[c], a) || containsWord(s.synonyms[a], c) {
		return Result{Score: 2, Source: SourceSynonym}, true
	}

	if c != "" && strings.Contains(a, c) && len(a) > len(c) {
		return Result{Score: 1, Source: SourceContains}, true
	}

	return Result{}, false
}

func containsWord(list []string, word string) bool {
	for _, item := range list {
		if item == word {
			return true
		}
	}
	return false
}

// semanticLite maps Jaccard token overlap >= 0.5 to a partial score.
func (s *Scorer) semanticLite(correct, submitted string) Result {
	correctTokens := tokenSet(correct)
	answerTokens := tokenSet(submitted)
	if len(correctTokens) == 0 || len(answerTokens) == 0 {
		return Result{Score: 0, Source: SourceSemanticLite}
	}

	intersection := 0
	for token := range answerTokens {
		if correctTokens[token] {
			intersection++
		}
	}
	union := len(correctTokens) + len(answerTokens) - intersection

	if float64(intersection)/float64(union) >= 0.5 {
		return Result{Score: 1, Source: SourceSemanticLite}
	}
	return Result{Score: 0, Source: SourceSemanticLite}
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(normalize(text)) {
		set[token] = true
	}
	return set
}

type remoteRequest struct {
	Prompt        string `json:"prompt"`
	CorrectAnswer string `json:"correct_answer"`
	UserAnswer    string `json:"user_answer"`
}

type remoteResponse struct {
	Score  *int `json:"score"`
	Result struct {
		Score *int `json:"score"`
	} `json:"result"`
}

// callRemote asks the external oracle. Every failure mode (disabled, network
// error, timeout, bad status, malformed body) returns ok=false and falls
// through to the local fallback.
func (s *Scorer) callRemote(correct, submitted string) (Result, bool) {
	if !s.cfg.Enabled || s.cfg.APIURL == "" {
		return Result{}, false
	}

	payload, err := json.Marshal(remoteRequest{
		Prompt: "Score translation quality from 0 to 2. 0=wrong, 1=partial, 2=correct. " +
			"Correct answer: " + correct + ". User answer: " + submitted + ".",
		CorrectAnswer: correct,
		UserAnswer:    submitted,
	})
	if err != nil {
		return Result{}, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	metrics.ScoringCallsTotal.Inc()
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.ScoringTimeoutsTotal.Inc()
		s.log.Warn("scoring oracle call failed", zap.Error(err))
		return Result{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.ScoringTimeoutsTotal.Inc()
		return Result{}, false
	}

	var body remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, false
	}

	score := body.Score
	if score == nil {
		score = body.Result.Score
	}
	if score == nil {
		return Result{}, false
	}

	clamped := *score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 2 {
		clamped = 2
	}
	return Result{Score: clamped, Source: SourceLLM}, true
}
