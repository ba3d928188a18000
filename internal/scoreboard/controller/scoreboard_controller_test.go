package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository/repotest"
	"ctfboard/internal/scoreboard/controller"
	"ctfboard/internal/scoreboard/service"
	appErr "ctfboard/pkg/errors"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Code appErr.ErrorCode     `json:"code"`
	Data service.FilteredView `json:"data"`
}

func newRouter(t *testing.T) (*gin.Engine, *repotest.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	now := time.Now().UTC()
	store := repotest.NewStore()
	store.AddGame(model.Game{ID: 1, StartTimeUtc: now.Add(-time.Hour), EndTimeUtc: now.Add(time.Hour)})
	store.AddChallenge(model.Challenge{ID: 10, GameID: 1, Title: "Foo", Category: "web", OriginalScore: 100, IsEnabled: true, CanSubmit: true})
	store.AddChallenge(model.Challenge{ID: 11, GameID: 1, Title: "Bar", Category: "pwn", OriginalScore: 300, IsEnabled: true, CanSubmit: true})
	store.AddParticipation(model.Participation{ID: 100, GameID: 1, TeamID: 1, TeamName: "A", Organization: "Public", Status: model.ParticipationAccepted})
	store.AddParticipation(model.Participation{ID: 101, GameID: 1, TeamID: 2, TeamName: "B", Organization: "School", Status: model.ParticipationAccepted})
	store.AddSubmission(model.Submission{GameID: 1, ChallengeID: 10, TeamID: 1, Status: model.Accepted, SubmitTimeUtc: now.Add(-time.Minute)})
	store.AddSubmission(model.Submission{GameID: 1, ChallengeID: 11, TeamID: 2, Status: model.Accepted, SubmitTimeUtc: now.Add(-time.Minute)})

	builder := service.NewBuilder(store.Games(), store.Challenges(), store.Participations(), store.SubmissionRepo(), service.TieBreakSubmissionTime, nil)
	cm, err := service.NewCacheManager(builder, nil, nil, service.CacheConfig{}, nil)
	if err != nil {
		t.Fatalf("new cache manager: %v", err)
	}
	svc, err := service.NewScoreboardService(cm, service.Config{})
	if err != nil {
		t.Fatalf("new scoreboard service: %v", err)
	}
	r := gin.New()
	controller.NewScoreboardController(svc).Register(r.Group("/api/v1"))
	return r, store
}

func get(t *testing.T, r http.Handler, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestScoreboardControllerGet(t *testing.T) {
	t.Parallel()
	r, _ := newRouter(t)

	w, env := get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(env.Data.Items) != 2 || env.Data.Items[0].TeamID != 2 {
		t.Fatalf("unexpected items %+v", env.Data.Items)
	}

	w, env = get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard?title=foo")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if env.Data.Items[0].TeamID != 1 || env.Data.Items[0].Score != 100 || env.Data.Items[1].Score != 0 {
		t.Fatalf("unexpected filtered items %+v", env.Data.Items)
	}

	w, env = get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard?organization=School")
	if len(env.Data.Items) != 1 || env.Data.Items[0].Rank != 1 {
		t.Fatalf("unexpected organization view %+v", env.Data.Items)
	}

	w, env = get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard?title=(")
	if w.Code != http.StatusBadRequest || env.Code != appErr.ScoreboardFilterInvalid {
		t.Fatalf("expected filter error, got %d %d", w.Code, env.Code)
	}

	w, _ = get(t, r, http.MethodGet, "/api/v1/games/7/scoreboard")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestScoreboardControllerInvalidate(t *testing.T) {
	t.Parallel()
	r, store := newRouter(t)
	_, env := get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard")
	if env.Data.Items[0].TeamID != 2 {
		t.Fatalf("unexpected leader %d", env.Data.Items[0].TeamID)
	}

	store.AddSubmission(model.Submission{GameID: 1, ChallengeID: 11, TeamID: 1, Status: model.Accepted, SubmitTimeUtc: time.Now().UTC()})
	w, _ := get(t, r, http.MethodPost, "/api/v1/games/1/scoreboard/invalidate")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	_, env = get(t, r, http.MethodGet, "/api/v1/games/1/scoreboard")
	if env.Data.Items[0].TeamID != 1 {
		t.Fatalf("expected rebuilt scoreboard with team 1 leading, got %+v", env.Data.Items)
	}
}
