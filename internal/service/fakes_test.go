package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"gorm.io/datatypes"

	"persona-chat/internal/memory"
	"persona-chat/internal/model"
	"persona-chat/internal/provider"
	"persona-chat/internal/repository"
	"persona-chat/internal/worker"
)

// ==================== 对话存储 ====================

type fakeChats struct {
	mu       sync.Mutex
	nextID   int64
	chats    map[int64]*model.Chat
	messages map[int64][]model.Message
	appends  int
}

func newFakeChats() *fakeChats {
	return &fakeChats{chats: map[int64]*model.Chat{}, messages: map[int64][]model.Message{}}
}

func (f *fakeChats) Create(_ context.Context, chat *model.Chat, messages []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	chat.ID = f.nextID
	chat.MessageCount = len(messages)
	for i := range messages {
		messages[i].ChatID = chat.ID
		messages[i].Seq = i + 1
	}
	cp := *chat
	f.chats[chat.ID] = &cp
	f.messages[chat.ID] = append([]model.Message(nil), messages...)
	return nil
}

func (f *fakeChats) GetByID(_ context.Context, id int64) (*model.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chats[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeChats) GetByIDWithMessages(ctx context.Context, id int64) (*model.Chat, error) {
	c, err := f.GetByID(ctx, id)
	if c == nil || err != nil {
		return c, err
	}
	c.Messages, _ = f.ListMessages(ctx, id)
	return c, nil
}

func (f *fakeChats) GetByShareToken(ctx context.Context, token string) (*model.Chat, error) {
	f.mu.Lock()
	var id int64
	for _, c := range f.chats {
		if c.IsShared && c.ShareToken != nil && *c.ShareToken == token {
			id = c.ID
		}
	}
	f.mu.Unlock()
	if id == 0 {
		return nil, nil
	}
	return f.GetByIDWithMessages(ctx, id)
}

func (f *fakeChats) ListMessages(_ context.Context, chatID int64) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.messages[chatID]...), nil
}

func (f *fakeChats) AppendTurn(_ context.Context, chatID int64, messages []model.Message, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	existing := f.messages[chatID]
	for i := range messages {
		messages[i].ChatID = chatID
		messages[i].Seq = len(existing) + i + 1
	}
	f.messages[chatID] = append(existing, messages...)
	c := f.chats[chatID]
	c.MessageCount += len(messages)
	f.apply(c, fields)
	return nil
}

func (f *fakeChats) UpdateFields(_ context.Context, id int64, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apply(f.chats[id], fields)
	return nil
}

func (f *fakeChats) apply(c *model.Chat, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "summary":
			c.Summary = v.(string)
		case "ai_provider":
			c.AIProvider = v.(string)
		case "ai_model":
			c.AIModel = v.(string)
		case "ai_settings":
			c.AISettings = v.(datatypes.JSONType[model.GenerationSettings])
		case "is_shared":
			c.IsShared = v.(bool)
		case "share_token":
			token := v.(string)
			c.ShareToken = &token
		}
	}
}

func (f *fakeChats) ListByOwner(_ context.Context, userID int64, guestID string, page, pageSize int) ([]model.Chat, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Chat
	for _, c := range f.chats {
		if c.IsOwnedBy(userID, guestID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (f *fakeChats) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeChats) UpdateMessageFeedback(_ context.Context, chatID int64, seq int, rating int, comment *string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[chatID]
	for i := range msgs {
		if msgs[i].Seq == seq {
			r := rating
			msgs[i].FeedbackRating = &r
			msgs[i].FeedbackComment = comment
			return true, nil
		}
	}
	return false, nil
}

// ==================== 角色存储 ====================

type fakeCharacters struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.Character
}

func newFakeCharacters(chars ...model.Character) *fakeCharacters {
	f := &fakeCharacters{items: map[int64]*model.Character{}}
	for i := range chars {
		c := chars[i]
		if c.ID == 0 {
			f.nextID++
			c.ID = f.nextID
		} else if c.ID > f.nextID {
			f.nextID = c.ID
		}
		f.items[c.ID] = &c
	}
	return f
}

func (f *fakeCharacters) Create(_ context.Context, c *model.Character) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	cp := *c
	f.items[c.ID] = &cp
	return nil
}

func (f *fakeCharacters) CreateBatch(ctx context.Context, chars []model.Character) error {
	for i := range chars {
		if err := f.Create(ctx, &chars[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCharacters) GetByID(_ context.Context, id int64) (*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCharacters) GetByIDs(ctx context.Context, ids []int64) ([]model.Character, error) {
	var out []model.Character
	for _, id := range ids {
		if c, _ := f.GetByID(ctx, id); c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharacters) UpdateFields(_ context.Context, id int64, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.items[id]
	for k, v := range fields {
		switch k {
		case "name":
			c.Name = v.(string)
		case "description":
			c.Description = v.(string)
		case "system_prompt":
			c.SystemPrompt = v.(string)
		case "is_public":
			c.IsPublic = v.(bool)
		}
	}
	return nil
}

func (f *fakeCharacters) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, id)
	return nil
}

func (f *fakeCharacters) ListVisible(_ context.Context, userID int64, page, pageSize int) ([]model.Character, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Character
	for _, c := range f.items {
		if c.VisibleTo(userID) {
			out = append(out, *c)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeCharacters) ListByOwner(_ context.Context, userID int64) ([]model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Character
	for _, c := range f.items {
		if c.OwnedBy(userID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCharacters) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.items)), nil
}

func (f *fakeCharacters) IncrementPopularity(_ context.Context, id int64, chats, messages int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.items[id]
	c.ChatCount += int64(chats)
	c.MessageCount += int64(messages)
	return nil
}

// ==================== 用户存储 ====================

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]*model.User
}

func newFakeUsers(users ...model.User) *fakeUsers {
	f := &fakeUsers{items: map[int64]*model.User{}}
	for i := range users {
		u := users[i]
		f.items[u.ID] = &u
		if u.ID > f.nextID {
			f.nextID = u.ID
		}
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u.ID = f.nextID
	cp := *u
	f.items[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) find(match func(*model.User) bool) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.items {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }), nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email != nil && *u.Email == email }), nil
}

func (f *fakeUsers) UpdateFields(_ context.Context, id int64, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.items[id]
	if v, ok := fields["password_hash"].(string); ok {
		u.PasswordHash = v
	}
	if v, ok := fields["avatar"].(*string); ok {
		u.Avatar = v
	}
	if v, ok := fields["email"].(*string); ok {
		u.Email = v
	}
	return nil
}

func (f *fakeUsers) UpdateAIPreferences(_ context.Context, id int64, prefs model.AIPreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id].AIPreferences = datatypes.NewJSONType(prefs)
	return nil
}

func (f *fakeUsers) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	u, _ := f.GetByUsername(ctx, username)
	return u != nil, nil
}

func (f *fakeUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	u, _ := f.GetByEmail(ctx, email)
	return u != nil, nil
}

// ==================== 交互记录 ====================

type fakeInteractions struct {
	mu      sync.Mutex
	items   []model.Interaction
	deleted time.Time
}

func (f *fakeInteractions) Create(_ context.Context, in *model.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, *in)
	return nil
}

func (f *fakeInteractions) Record(ctx context.Context, in *model.Interaction) error {
	return f.Create(ctx, in)
}

func (f *fakeInteractions) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.items))
	for i, in := range f.items {
		out[i] = in.Action
	}
	return out
}

func (f *fakeInteractions) PopularCharacters(_ context.Context, _ time.Time, limit int) ([]repository.CharacterScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int64{}
	for _, in := range f.items {
		if in.CharacterID != nil && (in.Action == model.ActionChatStart || in.Action == model.ActionMessageSent) {
			counts[*in.CharacterID]++
		}
	}
	var scores []repository.CharacterScore
	for id, n := range counts {
		scores = append(scores, repository.CharacterScore{CharacterID: id, Score: n})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}

func (f *fakeInteractions) CountByUser(_ context.Context, userID int64) ([]repository.ActionCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[string]int64{}
	for _, in := range f.items {
		if in.UserID != nil && *in.UserID == userID {
			counts[in.Action]++
		}
	}
	var out []repository.ActionCount
	for a, n := range counts {
		out = append(out, repository.ActionCount{Action: a, Count: n})
	}
	return out, nil
}

func (f *fakeInteractions) TopCharacterForUser(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int{}
	var top int64
	for _, in := range f.items {
		if in.UserID != nil && *in.UserID == userID && in.CharacterID != nil {
			counts[*in.CharacterID]++
			if top == 0 || counts[*in.CharacterID] > counts[top] {
				top = *in.CharacterID
			}
		}
	}
	return top, nil
}

func (f *fakeInteractions) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = before
	var kept []model.Interaction
	var n int64
	for _, in := range f.items {
		if in.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, in)
	}
	f.items = kept
	return n, nil
}

// ==================== 供应商 ====================

// scriptedProvider 记录收到的消息，按设定返回回复或错误
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	reply    string
	err      error
	received [][]provider.Message
	options  []provider.Options
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(_ context.Context, msgs []provider.Message, opts provider.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, append([]provider.Message(nil), msgs...))
	p.options = append(p.options, opts)
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *scriptedProvider) Summarize(context.Context, []provider.Message, string) (string, error) {
	return "summary", nil
}

func (p *scriptedProvider) FormatMessages(msgs []provider.Message) (json.RawMessage, error) {
	return json.Marshal(msgs)
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

type fakeProviders map[string]provider.Provider

func (f fakeProviders) Get(name string) (provider.Provider, error) {
	p, ok := f[name]
	if !ok {
		return nil, provider.ErrUnknownProvider
	}
	return p, nil
}

func (f fakeProviders) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// fixedSummarizer 固定摘要或失败
type fixedSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *fixedSummarizer) Summarize(context.Context, []provider.Message, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

// ==================== 副作用 ====================

// inlineTasks 提交即执行
type inlineTasks struct {
	names []string
}

func (t *inlineTasks) Submit(name string, fn worker.Task) bool {
	t.names = append(t.names, name)
	_ = fn(context.Background())
	return true
}

type fakeLocker struct {
	held     map[int64]string
	released int
	err      error
}

func (l *fakeLocker) AcquireChatLock(_ context.Context, chatID int64, _ time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held == nil {
		l.held = map[int64]string{}
	}
	if _, ok := l.held[chatID]; ok {
		return "", false, nil
	}
	l.held[chatID] = "token"
	return "token", true, nil
}

func (l *fakeLocker) ReleaseChatLock(_ context.Context, chatID int64, token string) error {
	if l.held[chatID] == token {
		delete(l.held, chatID)
		l.released++
	}
	return nil
}

type fakeScheduler struct {
	jobs []memory.Job
}

func (s *fakeScheduler) Schedule(job memory.Job) bool {
	s.jobs = append(s.jobs, job)
	return true
}

type chatEvent struct {
	userID, chatID int64
	reply          string
}

type fakeChatNotifier struct {
	events []chatEvent
}

func (n *fakeChatNotifier) NotifyChatMessage(userID, chatID int64, _, reply *model.Message) {
	n.events = append(n.events, chatEvent{userID: userID, chatID: chatID, reply: reply.Content})
}

type fakeRelations struct {
	favorites map[int64]bool
}

func (r *fakeRelations) Get(_ context.Context, userID, characterID int64) (*model.UserCharacterRelation, error) {
	if _, ok := r.favorites[characterID]; !ok {
		return nil, nil
	}
	return &model.UserCharacterRelation{UserID: userID, CharacterID: characterID, Favorite: r.favorites[characterID]}, nil
}

func (r *fakeRelations) ListFavorites(_ context.Context, userID int64, _ int) ([]model.UserCharacterRelation, error) {
	var out []model.UserCharacterRelation
	for id, fav := range r.favorites {
		if fav {
			out = append(out, model.UserCharacterRelation{UserID: userID, CharacterID: id, Favorite: true})
		}
	}
	return out, nil
}

func (r *fakeRelations) SetFavorite(_ context.Context, userID, characterID int64, favorite bool) (*model.UserCharacterRelation, error) {
	if r.favorites == nil {
		r.favorites = map[int64]bool{}
	}
	r.favorites[characterID] = favorite
	return &model.UserCharacterRelation{UserID: userID, CharacterID: characterID, Favorite: favorite}, nil
}

type memCache struct {
	data map[string][]byte
	sets int
}

func (c *memCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	data, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (c *memCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = data
	c.sets++
	return nil
}

var errProviderDown = errors.New("provider down")
