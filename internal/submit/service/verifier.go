package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"ctfboard/internal/game/model"
	"ctfboard/internal/game/repository"
)

// verdict is the outcome of checking one answer.
type verdict struct {
	status model.AnswerResult
	// cheatOwner is set for CheatDetected.
	cheatOwner *model.Participation
}

// verifier checks answers against static flags or per-team instance flags.
type verifier struct {
	instances repository.InstanceRepository
}

func (v *verifier) verify(
	ctx context.Context,
	challenge *model.Challenge,
	participation *model.Participation,
	answer string,
	alreadySolved bool,
) (verdict, error) {
	answer = strings.TrimSpace(answer)

	correct, err := v.matches(ctx, challenge, participation, answer)
	if err != nil {
		return verdict{}, err
	}
	if correct {
		if alreadySolved {
			return verdict{status: model.DuplicateIgnored}, nil
		}
		return verdict{status: model.Accepted}, nil
	}

	if challenge.Type.IsDynamic() && v.instances != nil {
		owner, found, err := v.instances.FindFlagOwner(ctx, challenge.ID, answer)
		if err != nil {
			return verdict{}, err
		}
		if found && owner.ID != participation.ID {
			return verdict{status: model.CheatDetected, cheatOwner: owner}, nil
		}
	}
	return verdict{status: model.WrongAnswer}, nil
}

func (v *verifier) matches(
	ctx context.Context,
	challenge *model.Challenge,
	participation *model.Participation,
	answer string,
) (bool, error) {
	if !challenge.Type.IsDynamic() {
		for _, flag := range challenge.Flags {
			if flagEqual(flag, answer) {
				return true, nil
			}
		}
		return false, nil
	}

	if v.instances == nil {
		return false, errors.New("instance repository is required for dynamic challenges")
	}
	flag, err := v.instances.Flag(ctx, challenge.ID, participation.ID)
	if err != nil {
		if errors.Is(err, repository.ErrInstanceNotFound) {
			return false, nil
		}
		return false, err
	}
	if flag == "" {
		return false, nil
	}
	return flagEqual(flag, answer), nil
}

func flagEqual(flag, answer string) bool {
	flag = strings.TrimSpace(flag)
	if flag == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(flag), []byte(answer)) == 1
}
