package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// HTTPScoreSource queries an external anomaly scoring service. The
// anomaly gate bounds the wait; this client only carries the request.
type HTTPScoreSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScoreSource creates a score client for the given base URL.
func NewHTTPScoreSource(baseURL string) *HTTPScoreSource {
	return &HTTPScoreSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// AnomalyScore fetches the identity's score for the activity window.
func (s *HTTPScoreSource) AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error) {
	url := fmt.Sprintf("%s/api/score/%s?window=%s", s.baseURL, identityID, window)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch score: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}

	var score protocol.AnomalyScore
	if err := json.NewDecoder(resp.Body).Decode(&score); err != nil {
		return 0, fmt.Errorf("decode score: %w", err)
	}
	return score.Score, nil
}

// StaticScoreSource answers every query with a fixed score. Used when no
// scoring service is deployed.
type StaticScoreSource struct {
	Score float64
}

func (s *StaticScoreSource) AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error) {
	return s.Score, nil
}

// ScorerService is a stand-in anomaly scoring service. Scores are set
// administratively per identity; unknown identities score zero. The
// real system feeds this from the federated detection pipeline.
type ScorerService struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewScorerService creates a scorer with no flagged identities.
func NewScorerService() *ScorerService {
	return &ScorerService{scores: make(map[string]float64)}
}

// SetScore sets an identity's anomaly score.
func (s *ScorerService) SetScore(identityID string, score float64) {
	s.mu.Lock()
	s.scores[identityID] = score
	s.mu.Unlock()
}

// AnomalyScore implements the score source for in-process wiring.
func (s *ScorerService) AnomalyScore(ctx context.Context, identityID string, window time.Duration) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores[identityID], nil
}

// RegisterRoutes registers the scorer endpoints.
func (s *ScorerService) RegisterRoutes(router chi.Router) {
	router.Get("/api/score/{identity_id}", s.handleGetScore)
	router.Put("/api/score/{identity_id}", s.handleSetScore)
}

func (s *ScorerService) handleGetScore(w http.ResponseWriter, req *http.Request) {
	identityID := chi.URLParam(req, "identity_id")
	window, _ := time.ParseDuration(req.URL.Query().Get("window"))

	score, _ := s.AnomalyScore(req.Context(), identityID, window)
	writeJSON(w, http.StatusOK, protocol.AnomalyScore{
		IdentityID: identityID,
		Window:     window,
		Score:      score,
	})
}

func (s *ScorerService) handleSetScore(w http.ResponseWriter, req *http.Request) {
	score, err := strconv.ParseFloat(req.URL.Query().Get("value"), 64)
	if err != nil || score < 0 || score > 1 {
		http.Error(w, "score must be in [0,1]", http.StatusBadRequest)
		return
	}
	s.SetScore(chi.URLParam(req, "identity_id"), score)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
