package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/store"
)

// SendMessage posts body to a channel the actor belongs to.
func (s *Service) SendMessage(ctx context.Context, actor domain.Actor, channelID, body string) (Result[domain.Message], error) {
	if strings.TrimSpace(body) == "" {
		return Result[domain.Message]{}, domain.NewError(domain.KindValidation, "message body is required")
	}
	msg := domain.Message{
		ID:        s.ids.NewID(),
		ChannelID: channelID,
		SenderID:  actor.UserID,
		Body:      body,
		SentAt:    s.clock.Now(),
	}

	if s.Online() {
		sent, err := s.sendRemote(ctx, msg)
		if err == nil {
			return Result[domain.Message]{Value: sent}, nil
		}
		if !transient(err) {
			return Result[domain.Message]{}, err
		}
	}

	var ch domain.Channel
	var ok bool
	s.state.Read(func(v *local.View) { ch, ok = v.Channels.Get(channelID) })
	if !ok {
		return Result[domain.Message]{}, domain.NewError(domain.KindNotFound, "channel not found")
	}
	if !slices.Contains(ch.Members, msg.SenderID) {
		return Result[domain.Message]{}, domain.NewError(domain.KindUnauthorized, "sender is not a member of this channel")
	}
	actionID, err := s.enqueue(ctx, domain.ActionSendMessage, messagePayload{Message: msg})
	if err != nil {
		return Result[domain.Message]{}, err
	}
	return Result[domain.Message]{Value: msg, Queued: true, ActionID: actionID}, nil
}

func (s *Service) sendRemote(ctx context.Context, msg domain.Message) (domain.Message, error) {
	rec, err := s.store.Get(ctx, store.TableChannels, msg.ChannelID)
	if err != nil {
		return domain.Message{}, store.DomainError(err, "channel")
	}
	ch, err := store.Decode[domain.Channel](rec)
	if err != nil {
		return domain.Message{}, err
	}
	if !slices.Contains(ch.Members, msg.SenderID) {
		return domain.Message{}, domain.NewError(domain.KindUnauthorized, "sender is not a member of this channel")
	}

	rec, err = s.store.Create(ctx, store.TableMessages, msg.ID, msg)
	if err != nil {
		return domain.Message{}, store.DomainError(err, "message")
	}
	s.state.Apply(func(v *local.View) { v.Channels.Put(ch) })
	return store.Decode[domain.Message](rec)
}

// Messages lists a channel's messages for a member. It needs the store.
func (s *Service) Messages(ctx context.Context, actor domain.Actor, channelID string) ([]domain.Message, error) {
	if !s.Online() {
		return nil, offlineErr("reading messages")
	}
	rec, err := s.store.Get(ctx, store.TableChannels, channelID)
	if err != nil {
		return nil, store.DomainError(err, "channel")
	}
	ch, err := store.Decode[domain.Channel](rec)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(ch.Members, actor.UserID) {
		return nil, domain.NewError(domain.KindUnauthorized, "not a member of this channel")
	}
	recs, err := s.store.Query(ctx, store.TableMessages, store.Filter{store.Eq("channel_id", channelID)})
	if err != nil {
		return nil, store.DomainError(err, "messages")
	}
	return store.DecodeAll[domain.Message](recs)
}

// UpdateProfile stores the actor's own specialization profile. Every label
// must map to a known specialization.
func (s *Service) UpdateProfile(ctx context.Context, actor domain.Actor, profile domain.TrainerProfile) (Result[domain.TrainerProfile], error) {
	if actor.Role != domain.RoleTrainer && actor.Role != domain.RoleSupervisor {
		return Result[domain.TrainerProfile]{}, domain.NewError(domain.KindUnauthorized, "only trainers and supervisors keep a specialization profile")
	}
	if profile.ID == "" {
		profile.ID = actor.UserID
	}
	if actor.UserID == "" || profile.ID != actor.UserID {
		return Result[domain.TrainerProfile]{}, domain.NewError(domain.KindUnauthorized, "a profile can only be changed by its owner")
	}
	for _, label := range profile.Specializations.Names() {
		if _, ok := s.catalog.FromProfile(label); !ok {
			return Result[domain.TrainerProfile]{}, domain.NewError(domain.KindValidation, fmt.Sprintf("unknown specialization %q", label))
		}
	}
	profile.UpdatedAt = s.clock.Now()

	if s.Online() {
		saved, err := s.saveProfile(ctx, profile)
		if err == nil {
			return Result[domain.TrainerProfile]{Value: saved}, nil
		}
		if !transient(err) {
			return Result[domain.TrainerProfile]{}, err
		}
	}

	s.state.Apply(func(v *local.View) { v.Profiles.Put(profile) })
	actionID, err := s.enqueue(ctx, domain.ActionUpdateProfile, profilePayload{Actor: actor, Profile: profile})
	if err != nil {
		return Result[domain.TrainerProfile]{}, err
	}
	return Result[domain.TrainerProfile]{Value: profile, Queued: true, ActionID: actionID}, nil
}

// saveProfile upserts a profile.
func (s *Service) saveProfile(ctx context.Context, profile domain.TrainerProfile) (domain.TrainerProfile, error) {
	rec, err := s.store.Update(ctx, store.TableProfiles, profile.ID, store.Patch{
		"display_name":    profile.DisplayName,
		"specializations": profile.Specializations,
		"updated_at":      profile.UpdatedAt,
	})
	if errors.Is(err, store.ErrNotFound) {
		rec, err = s.store.Create(ctx, store.TableProfiles, profile.ID, profile)
		if errors.Is(err, store.ErrDuplicate) {
			return s.saveProfile(ctx, profile)
		}
	}
	if err != nil {
		return domain.TrainerProfile{}, store.DomainError(err, "trainer profile")
	}

	saved, err := store.Decode[domain.TrainerProfile](rec)
	if err != nil {
		return domain.TrainerProfile{}, err
	}
	s.state.Apply(func(v *local.View) { v.Profiles.Put(saved) })
	s.logger.Info("profile updated",
		"user_id", saved.ID,
		"specializations", saved.Specializations.Names())
	return saved, nil
}
