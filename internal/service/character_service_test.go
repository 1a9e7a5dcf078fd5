package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"persona-chat/internal/config"
	"persona-chat/internal/model"
	"persona-chat/pkg/util"
)

func analyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		Retention:      90 * 24 * time.Hour,
		PopularDays:    7,
		PopularLimit:   10,
		PopularCaching: 5 * time.Minute,
	}
}

func TestSeedDefaultsOnlyOnce(t *testing.T) {
	chars := newFakeCharacters()
	svc := NewCharacterService(chars)
	ctx := context.Background()

	n, err := svc.SeedDefaults(ctx)
	if err != nil || n != 4 {
		t.Fatalf("first seed = %d, %v", n, err)
	}
	n, err = svc.SeedDefaults(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v", n, err)
	}

	list, err := svc.List(ctx, 0, 1, 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Total != 4 {
		t.Errorf("want 4 public characters, got %d", list.Total)
	}
	for _, c := range list.Characters {
		if !c.IsPublic || c.UserID != nil || c.AvatarURL != model.DefaultAvatarURL {
			t.Errorf("seeded character %+v", c)
		}
	}
}

func TestCharacterOwnership(t *testing.T) {
	chars := newFakeCharacters()
	svc := NewCharacterService(chars)
	ctx := context.Background()

	if _, err := svc.Create(ctx, 1, &CreateCharacterRequest{Name: " ", SystemPrompt: "x"}); !errors.Is(err, ErrCharacterNameRequired) {
		t.Errorf("blank name: %v", err)
	}

	created, err := svc.Create(ctx, 1, &CreateCharacterRequest{Name: "Pirate", SystemPrompt: "Talk like a pirate."})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.IsPublic || !created.OwnedBy(1) || created.AvatarURL != model.DefaultAvatarURL {
		t.Errorf("created = %+v", created)
	}

	if _, err := svc.Get(ctx, user(2), created.ID); !errors.Is(err, ErrCharacterAccessDenied) {
		t.Errorf("private get by other user: %v", err)
	}
	if _, err := svc.Update(ctx, 2, created.ID, &UpdateCharacterRequest{Name: util.StringPtr("Mine")}); !errors.Is(err, ErrNotCharacterOwner) {
		t.Errorf("update by other user: %v", err)
	}
	if err := svc.Delete(ctx, 2, created.ID); !errors.Is(err, ErrNotCharacterOwner) {
		t.Errorf("delete by other user: %v", err)
	}

	updated, err := svc.Update(ctx, 1, created.ID, &UpdateCharacterRequest{IsPublic: util.BoolPtr(true)})
	if err != nil || !updated.IsPublic {
		t.Fatalf("Update = %+v, %v", updated, err)
	}
	if _, err := svc.Get(ctx, user(2), created.ID); err != nil {
		t.Errorf("public get by other user: %v", err)
	}

	if err := svc.Delete(ctx, 1, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, user(1), created.ID); !errors.Is(err, ErrCharacterNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}

func TestCharacterViewRecorded(t *testing.T) {
	chars := newFakeCharacters(model.Character{ID: 1, Name: "Historian", SystemPrompt: historianPrompt, IsPublic: true})
	interactions := &fakeInteractions{}
	svc := NewCharacterService(chars)
	svc.SetInteractionRecorder(interactions, &inlineTasks{})
	ctx := context.Background()

	svc.Get(ctx, user(1), 1)
	svc.Get(ctx, Caller{}, 1)

	got := interactions.actions()
	if len(got) != 1 || got[0] != model.ActionView {
		t.Errorf("interactions = %v", got)
	}
}

func TestPopularCharactersRankingAndCache(t *testing.T) {
	owner := int64(9)
	chars := newFakeCharacters(
		model.Character{ID: 1, Name: "A", IsPublic: true},
		model.Character{ID: 2, Name: "B", IsPublic: true},
		model.Character{ID: 3, Name: "Secret", UserID: &owner},
	)
	interactions := &fakeInteractions{}
	cache := &memCache{}
	svc := NewAnalyticsService(interactions, chars, cache, analyticsConfig())
	ctx := context.Background()

	record := func(characterID int64, action string, times int) {
		for i := 0; i < times; i++ {
			interactions.Create(ctx, newInteraction(user(1), characterID, action, nil))
		}
	}
	record(1, model.ActionMessageSent, 2)
	record(2, model.ActionMessageSent, 5)
	record(3, model.ActionChatStart, 9)
	record(1, model.ActionView, 20)

	popular, err := svc.PopularCharacters(ctx)
	if err != nil {
		t.Fatalf("PopularCharacters: %v", err)
	}
	if len(popular) != 2 || popular[0].Character.ID != 2 || popular[1].Character.ID != 1 {
		t.Fatalf("popular = %+v", popular)
	}
	if popular[0].Score != 5 {
		t.Errorf("score = %d", popular[0].Score)
	}

	// 缓存命中时不重新统计
	record(1, model.ActionMessageSent, 10)
	cached, err := svc.PopularCharacters(ctx)
	if err != nil || len(cached) != 2 || cached[0].Character.ID != 2 {
		t.Errorf("cached = %+v, %v", cached, err)
	}
	if cache.sets != 1 {
		t.Errorf("cache written %d times", cache.sets)
	}
}

func TestUserStatsAndRetention(t *testing.T) {
	chars := newFakeCharacters(model.Character{ID: 1, Name: "A", IsPublic: true})
	interactions := &fakeInteractions{}
	svc := NewAnalyticsService(interactions, chars, nil, analyticsConfig())
	ctx := context.Background()

	old := newInteraction(user(1), 1, model.ActionView, nil)
	old.CreatedAt = svc.now().AddDate(0, 0, -120)
	interactions.Create(ctx, old)
	for _, action := range []string{model.ActionChatStart, model.ActionMessageSent, model.ActionMessageSent} {
		in := newInteraction(user(1), 1, action, nil)
		in.CreatedAt = svc.now()
		interactions.Create(ctx, in)
	}

	stats, err := svc.UserStats(ctx, 1)
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if stats.Total != 4 || stats.Actions[model.ActionMessageSent] != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TopCharacter == nil || stats.TopCharacter.ID != 1 {
		t.Errorf("top character = %+v", stats.TopCharacter)
	}

	deleted, err := svc.RunRetention(ctx)
	if err != nil || deleted != 1 {
		t.Errorf("RunRetention = %d, %v", deleted, err)
	}
	if want := svc.now().AddDate(0, 0, -90); interactions.deleted.Sub(want).Abs().Hours() > 1 {
		t.Errorf("cutoff = %v, want about %v", interactions.deleted, want)
	}
}
