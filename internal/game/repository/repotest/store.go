// Package repotest provides an in-memory implementation of the game repositories for tests.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
)

// Store keeps games and their related records in memory. It implements every
// repository interface of the game package. Fail* methods inject errors.
type Store struct {
	mu sync.Mutex

	games          map[int64]*model.Game
	challenges     map[int64]*model.Challenge
	participations map[int64]*model.Participation
	instances      map[int64]*model.Instance
	containers     map[int64]*model.Container
	submissions    []*model.Submission
	notices        []*model.GameNotice
	cheats         []*model.CheatInfo
	nextID         int64

	failCreate      error
	failRecalculate error
	failListAll     error
	failGame        map[int64]error
	recalculations  int
}

// FailCreate makes submission inserts return err; nil clears it.
func (s *Store) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

// FailRecalculate makes RecalculateChallenge return err; nil clears it.
func (s *Store) FailRecalculate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRecalculate = err
}

// FailListAll makes GameRepository.ListAll return err; nil clears it.
func (s *Store) FailListAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failListAll = err
}

// FailGame makes reads of one game and its challenges return err; nil clears it.
func (s *Store) FailGame(gameID int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failGame, gameID)
		return
	}
	s.failGame[gameID] = err
}

// RecalculateCount returns how many times RecalculateChallenge ran.
func (s *Store) RecalculateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recalculations
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		games:          make(map[int64]*model.Game),
		challenges:     make(map[int64]*model.Challenge),
		participations: make(map[int64]*model.Participation),
		instances:      make(map[int64]*model.Instance),
		containers:     make(map[int64]*model.Container),
		failGame:       make(map[int64]error),
		nextID:         1000,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddGame stores a copy of game.
func (s *Store) AddGame(game model.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[game.ID] = &game
}

// AddChallenge stores a copy of challenge.
func (s *Store) AddChallenge(challenge model.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[challenge.ID] = &challenge
}

// AddParticipation stores a copy of p.
func (s *Store) AddParticipation(p model.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participations[p.ID] = &p
}

// AddInstance stores a copy of instance, assigning an id when missing.
func (s *Store) AddInstance(instance model.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if instance.ID == 0 {
		instance.ID = s.id()
	}
	s.instances[instance.ID] = &instance
}

// AddContainer stores a copy of container.
func (s *Store) AddContainer(container model.Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[container.ID] = &container
}

// AddSubmission stores a copy of submission as is.
func (s *Store) AddSubmission(submission model.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if submission.ID == 0 {
		submission.ID = s.id()
	}
	s.submissions = append(s.submissions, &submission)
}

// Challenge returns a copy of the stored challenge.
func (s *Store) Challenge(id int64) (model.Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return model.Challenge{}, false
	}
	return *c, true
}

// Submissions returns copies of all stored submissions.
func (s *Store) Submissions() []model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Submission, 0, len(s.submissions))
	for _, sub := range s.submissions {
		out = append(out, *sub)
	}
	return out
}

// Instances returns copies of the instances of a challenge.
func (s *Store) Instances(challengeID int64) []model.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Instance
	for _, inst := range s.instances {
		if inst.ChallengeID == challengeID {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Containers returns copies of the stored containers.
func (s *Store) Containers() []model.Container {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Container, 0, len(s.containers))
	for _, c := range s.containers {
		out = append(out, *c)
	}
	return out
}

// Notices returns copies of the stored notices.
func (s *Store) Notices() []model.GameNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GameNotice, 0, len(s.notices))
	for _, n := range s.notices {
		out = append(out, *n)
	}
	return out
}

// Cheats returns copies of the recorded cheat infos.
func (s *Store) Cheats() []model.CheatInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.CheatInfo, 0, len(s.cheats))
	for _, c := range s.cheats {
		out = append(out, *c)
	}
	return out
}

// Games returns a GameRepository view.
func (s *Store) Games() repository.GameRepository { return gameRepo{s} }

// Challenges returns a ChallengeRepository view.
func (s *Store) Challenges() repository.ChallengeRepository { return challengeRepo{s} }

// Participations returns a ParticipationRepository view.
func (s *Store) Participations() repository.ParticipationRepository { return participationRepo{s} }

// SubmissionRepo returns a SubmissionRepository view.
func (s *Store) SubmissionRepo() repository.SubmissionRepository { return submissionRepo{s} }

// InstanceRepo returns an InstanceRepository view.
func (s *Store) InstanceRepo() repository.InstanceRepository { return instanceRepo{s} }

// ContainerRepo returns a ContainerRepository view.
func (s *Store) ContainerRepo() repository.ContainerRepository { return containerRepo{s} }

// NoticeRepo returns a NoticeRepository view.
func (s *Store) NoticeRepo() repository.NoticeRepository { return noticeRepo{s} }

// CheatRepo returns a CheatRepository view.
func (s *Store) CheatRepo() repository.CheatRepository { return cheatRepo{s} }

type gameRepo struct{ s *Store }

func (r gameRepo) Get(ctx context.Context, gameID int64) (*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failGame[gameID]; err != nil {
		return nil, err
	}
	g, ok := r.s.games[gameID]
	if !ok {
		return nil, repository.ErrGameNotFound
	}
	cp := *g
	return &cp, nil
}

func (r gameRepo) ListAll(ctx context.Context) ([]*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failListAll != nil {
		return nil, r.s.failListAll
	}
	return r.s.sortedGames(func(*model.Game) bool { return true }), nil
}

func (r gameRepo) ListUpcoming(ctx context.Context, now time.Time) ([]*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedGames(func(g *model.Game) bool { return g.IsUpcoming(now) }), nil
}

func (s *Store) sortedGames(keep func(*model.Game) bool) []*model.Game {
	var out []*model.Game
	for _, g := range s.games {
		if keep(g) {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type challengeRepo struct{ s *Store }

func (r challengeRepo) Get(ctx context.Context, gameID, challengeID int64) (*model.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failGame[gameID]; err != nil {
		return nil, err
	}
	c, ok := r.s.challenges[challengeID]
	if !ok || c.GameID != gameID {
		return nil, repository.ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (r challengeRepo) ListByGame(ctx context.Context, gameID int64) ([]*model.Challenge, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.failGame[gameID]; err != nil {
		return nil, err
	}
	var out []*model.Challenge
	for _, c := range r.s.challenges {
		if c.GameID == gameID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r challengeRepo) Enable(ctx context.Context, gameID, challengeID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[challengeID]
	if !ok || c.GameID != gameID || c.IsEnabled {
		return false, nil
	}
	c.IsEnabled = true
	return true, nil
}

func (r challengeRepo) CloseSubmission(ctx context.Context, gameID, challengeID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.challenges[challengeID]
	if !ok || c.GameID != gameID || !c.CanSubmit {
		return false, nil
	}
	c.CanSubmit = false
	return true, nil
}

type participationRepo struct{ s *Store }

func (r participationRepo) GetByTeam(ctx context.Context, gameID, teamID int64) (*model.Participation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.participations {
		if p.GameID == gameID && p.TeamID == teamID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrParticipationNotFound
}

func (r participationRepo) ListAccepted(ctx context.Context, gameID int64) ([]*model.Participation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.acceptedParticipations(gameID), nil
}

func (s *Store) acceptedParticipations(gameID int64) []*model.Participation {
	var out []*model.Participation
	for _, p := range s.participations {
		if p.GameID == gameID && p.Status == model.ParticipationAccepted {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type submissionRepo struct{ s *Store }

func (r submissionRepo) Create(ctx context.Context, submission *model.Submission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCreate != nil {
		return r.s.failCreate
	}
	submission.ID = r.s.id()
	if submission.SubmitTimeUtc.IsZero() {
		submission.SubmitTimeUtc = time.Now().UTC()
	}
	cp := *submission
	r.s.submissions = append(r.s.submissions, &cp)
	return nil
}

func (r submissionRepo) HasAccepted(ctx context.Context, gameID, challengeID, teamID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.submissions {
		if sub.GameID == gameID && sub.ChallengeID == challengeID && sub.TeamID == teamID && sub.Status == model.Accepted {
			return true, nil
		}
	}
	return false, nil
}

func (r submissionRepo) ListAccepted(ctx context.Context, gameID int64) ([]*model.Submission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Submission
	for _, sub := range r.s.submissions {
		if sub.GameID == gameID && sub.Status == model.Accepted {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmitTimeUtc.Before(out[j].SubmitTimeUtc) })
	return out, nil
}

func (r submissionRepo) RecalculateChallenge(ctx context.Context, gameID, challengeID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.recalculations++
	if r.s.failRecalculate != nil {
		return r.s.failRecalculate
	}
	solvedTeams := make(map[int64]struct{})
	for _, sub := range r.s.submissions {
		if sub.GameID == gameID && sub.ChallengeID == challengeID && sub.Status == model.Accepted {
			solvedTeams[sub.TeamID] = struct{}{}
		}
	}
	count := 0
	byParticipation := make(map[int64]bool)
	for _, p := range r.s.acceptedParticipations(gameID) {
		if _, ok := solvedTeams[p.TeamID]; ok {
			count++
			byParticipation[p.ID] = true
		}
	}
	for _, inst := range r.s.instances {
		if inst.ChallengeID == challengeID {
			inst.IsSolved = byParticipation[inst.ParticipationID]
		}
	}
	if c, ok := r.s.challenges[challengeID]; ok {
		c.AcceptedCount = count
	}
	return nil
}

type instanceRepo struct{ s *Store }

func (r instanceRepo) Flag(ctx context.Context, challengeID, participationID int64) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inst := range r.s.instances {
		if inst.ChallengeID == challengeID && inst.ParticipationID == participationID {
			return inst.Flag, nil
		}
	}
	return "", repository.ErrInstanceNotFound
}

func (r instanceRepo) FindFlagOwner(ctx context.Context, challengeID int64, flag string) (*model.Participation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inst := range r.s.instances {
		if inst.ChallengeID == challengeID && inst.Flag != "" && inst.Flag == flag {
			if p, ok := r.s.participations[inst.ParticipationID]; ok {
				cp := *p
				return &cp, true, nil
			}
		}
	}
	return nil, false, nil
}

func (r instanceRepo) EnsureForChallenge(ctx context.Context, gameID, challengeID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	have := make(map[int64]bool)
	for _, inst := range r.s.instances {
		if inst.ChallengeID == challengeID {
			have[inst.ParticipationID] = true
		}
	}
	var created int64
	for _, p := range r.s.acceptedParticipations(gameID) {
		if have[p.ID] {
			continue
		}
		id := r.s.id()
		r.s.instances[id] = &model.Instance{ID: id, ChallengeID: challengeID, ParticipationID: p.ID}
		created++
	}
	return created, nil
}

type containerRepo struct{ s *Store }

func (r containerRepo) ListDying(ctx context.Context, now time.Time) ([]*model.Container, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Container
	for _, c := range r.s.containers {
		if !c.ExpectStopAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r containerRepo) Delete(ctx context.Context, container *model.Container) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.containers, container.ID)
	for _, inst := range r.s.instances {
		if inst.ContainerID != nil && *inst.ContainerID == container.ID {
			inst.ContainerID = nil
		}
	}
	return nil
}

type noticeRepo struct{ s *Store }

func (r noticeRepo) Add(ctx context.Context, notice *model.GameNotice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	notice.ID = r.s.id()
	cp := *notice
	r.s.notices = append(r.s.notices, &cp)
	return nil
}

type cheatRepo struct{ s *Store }

func (r cheatRepo) Add(ctx context.Context, info *model.CheatInfo) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *info
	r.s.cheats = append(r.s.cheats, &cp)
	return nil
}
