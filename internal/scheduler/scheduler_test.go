package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository/repotest"
	"ctfboard/internal/scheduler"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

type fakeOrchestrator struct {
	mu        sync.Mutex
	ensured   []int64
	dyingRuns int
	dying     []*model.Container
	destroyed []int64
	failID    int64
	block     chan struct{}
	entered   chan struct{}
}

func (o *fakeOrchestrator) EnsureInstances(ctx context.Context, game *model.Game, challenge *model.Challenge) error {
	if o.block != nil {
		o.entered <- struct{}{}
		<-o.block
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensured = append(o.ensured, challenge.ID)
	return nil
}

func (o *fakeOrchestrator) GetDyingContainers(ctx context.Context) ([]*model.Container, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dyingRuns++
	return o.dying, nil
}

func (o *fakeOrchestrator) DestroyContainer(ctx context.Context, c *model.Container) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c.ID == o.failID {
		return errors.New("engine unavailable")
	}
	o.destroyed = append(o.destroyed, c.ID)
	return nil
}

type fakeScoreboards struct {
	mu           sync.Mutex
	invalidated  map[int64]int
	bootstrapped []int64
}

func newFakeScoreboards() *fakeScoreboards {
	return &fakeScoreboards{invalidated: make(map[int64]int)}
}

func (f *fakeScoreboards) Invalidate(ctx context.Context, gameID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated[gameID]++
	return nil
}

func (f *fakeScoreboards) Bootstrap(ctx context.Context, gameID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrapped = append(f.bootstrapped, gameID)
	return nil
}

type fakePublisher struct {
	mu      sync.Mutex
	notices []*model.GameNotice
}

func (p *fakePublisher) PublishNotice(ctx context.Context, gameID int64, notice *model.GameNotice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, notice)
	return nil
}

type fixture struct {
	store        *repotest.Store
	orchestrator *fakeOrchestrator
	scoreboards  *fakeScoreboards
	publisher    *fakePublisher
	sched        *scheduler.Scheduler
}

func newFixture(t *testing.T, orchestrator *fakeOrchestrator, cfg scheduler.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:        repotest.NewStore(),
		orchestrator: orchestrator,
		scoreboards:  newFakeScoreboards(),
		publisher:    &fakePublisher{},
	}
	f.sched = f.newScheduler(t, cfg)
	return f
}

func (f *fixture) newScheduler(t *testing.T, cfg scheduler.Config) *scheduler.Scheduler {
	t.Helper()
	sched, err := scheduler.New(scheduler.Deps{
		Games:        f.store.Games(),
		Challenges:   f.store.Challenges(),
		Notices:      f.store.NoticeRepo(),
		Orchestrator: f.orchestrator,
		Scoreboards:  f.scoreboards,
		Publisher:    f.publisher,
		Clock:        func() time.Time { return base },
	}, cfg)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func TestTickEnablesAndClosesChallenges(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeOrchestrator{}, scheduler.Config{})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 10, GameID: 1, Title: "warmup", CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 11, GameID: 1, IsEnabled: true, CanSubmit: true, EnableAt: at(-time.Hour), EndAt: at(0)})
	f.store.AddChallenge(model.Challenge{ID: 12, GameID: 1, CanSubmit: true, EnableAt: at(time.Minute), EndAt: at(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 13, GameID: 1, CanSubmit: true})

	if !f.sched.Tick(context.Background()) {
		t.Fatalf("expected tick to run")
	}

	if c, _ := f.store.Challenge(10); !c.IsEnabled {
		t.Fatalf("challenge 10 should be enabled")
	}
	if c, _ := f.store.Challenge(11); c.CanSubmit {
		t.Fatalf("challenge 11 submission should be closed")
	}
	if c, _ := f.store.Challenge(12); c.IsEnabled {
		t.Fatalf("challenge 12 enables in the future")
	}
	if c, _ := f.store.Challenge(13); c.IsEnabled {
		t.Fatalf("challenge without window must not change")
	}
	if len(f.orchestrator.ensured) != 1 || f.orchestrator.ensured[0] != 10 {
		t.Fatalf("expected instances ensured for challenge 10, got %v", f.orchestrator.ensured)
	}
	if got := f.scoreboards.invalidated[1]; got != 1 {
		t.Fatalf("expected a single invalidation, got %d", got)
	}
	notices := f.store.Notices()
	if len(notices) != 1 || notices[0].Type != model.NoticeNewChallenge || notices[0].Values[0] != "warmup" {
		t.Fatalf("unexpected notices %+v", notices)
	}
	if len(f.publisher.notices) != 1 {
		t.Fatalf("expected notice broadcast, got %d", len(f.publisher.notices))
	}

	f.sched.Tick(context.Background())
	if got := f.scoreboards.invalidated[1]; got != 1 {
		t.Fatalf("unchanged tick must not invalidate, got %d", got)
	}
}

func TestEnableHappensOnceAcrossSchedulers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeOrchestrator{}, scheduler.Config{})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 10, GameID: 1, CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(time.Hour)})
	other := f.newScheduler(t, scheduler.Config{})

	var wg sync.WaitGroup
	for _, s := range []*scheduler.Scheduler{f.sched, other} {
		wg.Add(1)
		go func(s *scheduler.Scheduler) {
			defer wg.Done()
			s.Tick(context.Background())
		}(s)
	}
	wg.Wait()

	if got := len(f.store.Notices()); got != 1 {
		t.Fatalf("expected one notice, got %d", got)
	}
	if got := len(f.orchestrator.ensured); got != 1 {
		t.Fatalf("expected one provisioning, got %d", got)
	}
}

func TestNoNoticeBeforeGameStarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeOrchestrator{}, scheduler.Config{})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(time.Hour), EndTimeUtc: base.Add(2 * time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 10, GameID: 1, CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(2 * time.Hour)})

	f.sched.Tick(context.Background())

	if c, _ := f.store.Challenge(10); !c.IsEnabled {
		t.Fatalf("challenge should be enabled")
	}
	if got := len(f.store.Notices()); got != 0 {
		t.Fatalf("expected no notice for a game that has not started, got %d", got)
	}
}

func TestGameFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeOrchestrator{}, scheduler.Config{})
	for _, id := range []int64{1, 2} {
		f.store.AddGame(model.Game{ID: id, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})
		f.store.AddChallenge(model.Challenge{ID: id * 10, GameID: id, CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(time.Hour)})
	}
	f.store.FailGame(1, errors.New("connection reset"))

	if !f.sched.Tick(context.Background()) {
		t.Fatalf("expected tick to run")
	}
	if c, _ := f.store.Challenge(20); !c.IsEnabled {
		t.Fatalf("game 2 should be processed despite game 1 failing")
	}
	if c, _ := f.store.Challenge(10); c.IsEnabled {
		t.Fatalf("game 1 challenge should be untouched")
	}
}

func TestHousekeepingCadence(t *testing.T) {
	t.Parallel()
	orchestrator := &fakeOrchestrator{
		dying:  []*model.Container{{ID: 1, RuntimeID: "a"}, {ID: 2, RuntimeID: "b"}, {ID: 3, RuntimeID: "c"}},
		failID: 2,
	}
	f := newFixture(t, orchestrator, scheduler.Config{HousekeepingEvery: 6})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(time.Hour), EndTimeUtc: base.Add(2 * time.Hour)})
	f.store.AddGame(model.Game{ID: 2, StartTimeUtc: base.Add(-2 * time.Hour), EndTimeUtc: base.Add(-time.Hour)})
	f.store.AddGame(model.Game{ID: 3, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})

	for i := 0; i < 13; i++ {
		f.sched.Tick(context.Background())
	}

	if orchestrator.dyingRuns != 3 {
		t.Fatalf("expected housekeeping on ticks 1, 7 and 13, got %d runs", orchestrator.dyingRuns)
	}
	if got := len(orchestrator.destroyed); got != 6 {
		t.Fatalf("expected failed destroy not to stop the others, got %v", orchestrator.destroyed)
	}
	if len(f.scoreboards.bootstrapped) != 3 || f.scoreboards.bootstrapped[0] != 1 || f.scoreboards.bootstrapped[2] != 1 {
		t.Fatalf("expected only the upcoming game bootstrapped, got %v", f.scoreboards.bootstrapped)
	}
}

func TestTickSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	orchestrator := &fakeOrchestrator{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	f := newFixture(t, orchestrator, scheduler.Config{})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 10, GameID: 1, CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(time.Hour)})

	done := make(chan bool, 1)
	go func() { done <- f.sched.Tick(context.Background()) }()
	<-orchestrator.entered

	if f.sched.State() != scheduler.Running {
		t.Fatalf("expected running state")
	}
	if f.sched.OnSchedulerTick(context.Background()) {
		t.Fatalf("overlapping tick should be skipped")
	}
	close(orchestrator.block)
	if !<-done {
		t.Fatalf("first tick should have run")
	}
	if f.sched.State() != scheduler.Idle {
		t.Fatalf("expected idle state after tick")
	}
}

func TestStartTicksImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeOrchestrator{}, scheduler.Config{Interval: time.Hour})
	f.store.AddGame(model.Game{ID: 1, StartTimeUtc: base.Add(-time.Hour), EndTimeUtc: base.Add(time.Hour)})
	f.store.AddChallenge(model.Challenge{ID: 10, GameID: 1, CanSubmit: true, EnableAt: at(-time.Minute), EndAt: at(time.Hour)})

	f.sched.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if c, _ := f.store.Challenge(10); c.IsEnabled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected the first tick to run without waiting for the interval")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.sched.Stop()
}

func TestGuard(t *testing.T) {
	t.Parallel()
	var g scheduler.Guard
	if !g.TryEnter() {
		t.Fatalf("idle guard should admit")
	}
	if g.TryEnter() {
		t.Fatalf("running guard should refuse")
	}
	g.Leave()
	if g.State() != scheduler.Idle || !g.TryEnter() {
		t.Fatalf("guard should be reusable after leave")
	}
}
