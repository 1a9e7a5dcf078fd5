package service

import (
	"context"
	"time"

	"persona-chat/internal/compressor"
	"persona-chat/internal/memory"
	"persona-chat/internal/model"
	"persona-chat/internal/provider"
	"persona-chat/internal/repository"
	"persona-chat/internal/worker"
)

// 服务层依赖的存储接口，由 repository 包实现，测试时可替换为内存实现

// ChatStore 对话与消息存储
type ChatStore interface {
	Create(ctx context.Context, chat *model.Chat, messages []model.Message) error
	GetByID(ctx context.Context, id int64) (*model.Chat, error)
	GetByIDWithMessages(ctx context.Context, id int64) (*model.Chat, error)
	GetByShareToken(ctx context.Context, token string) (*model.Chat, error)
	ListMessages(ctx context.Context, chatID int64) ([]model.Message, error)
	AppendTurn(ctx context.Context, chatID int64, messages []model.Message, fields map[string]interface{}) error
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	ListByOwner(ctx context.Context, userID int64, guestID string, page, pageSize int) ([]model.Chat, int64, error)
	Delete(ctx context.Context, id int64) error
	UpdateMessageFeedback(ctx context.Context, chatID int64, seq int, rating int, comment *string) (bool, error)
}

// CharacterStore 角色存储
type CharacterStore interface {
	Create(ctx context.Context, character *model.Character) error
	CreateBatch(ctx context.Context, characters []model.Character) error
	GetByID(ctx context.Context, id int64) (*model.Character, error)
	GetByIDs(ctx context.Context, ids []int64) ([]model.Character, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	Delete(ctx context.Context, id int64) error
	ListVisible(ctx context.Context, userID int64, page, pageSize int) ([]model.Character, int64, error)
	ListByOwner(ctx context.Context, userID int64) ([]model.Character, error)
	Count(ctx context.Context) (int64, error)
	IncrementPopularity(ctx context.Context, id int64, chats, messages int) error
}

// UserStore 用户存储
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error
	UpdateAIPreferences(ctx context.Context, id int64, prefs model.AIPreferences) error
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// InteractionStore 交互记录存储
type InteractionStore interface {
	Create(ctx context.Context, interaction *model.Interaction) error
	PopularCharacters(ctx context.Context, since time.Time, limit int) ([]repository.CharacterScore, error)
	CountByUser(ctx context.Context, userID int64) ([]repository.ActionCount, error)
	TopCharacterForUser(ctx context.Context, userID int64) (int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ProviderSource 按名称查找供应商
type ProviderSource interface {
	Get(name string) (provider.Provider, error)
	Has(name string) bool
}

// HistoryCompressor 发送前压缩历史
type HistoryCompressor interface {
	Compress(ctx context.Context, history []provider.Message) compressor.Result
}

// TurnLocker 对话轮次锁
type TurnLocker interface {
	AcquireChatLock(ctx context.Context, chatID int64, ttl time.Duration) (string, bool, error)
	ReleaseChatLock(ctx context.Context, chatID int64, token string) error
}

// MemoryScheduler 提交记忆更新
type MemoryScheduler interface {
	Schedule(job memory.Job) bool
}

// InteractionRecorder 写入交互记录
type InteractionRecorder interface {
	Record(ctx context.Context, interaction *model.Interaction) error
}

// ChatNotifier 对话事件推送
type ChatNotifier interface {
	NotifyChatMessage(userID, chatID int64, message, reply *model.Message)
}

// TaskSubmitter 后台任务提交，由 worker.Pool 实现
type TaskSubmitter interface {
	Submit(name string, fn worker.Task) bool
}

// Caller 请求方身份
// 登录用户 UserID 非 0；访客只有 GuestID
type Caller struct {
	UserID  int64
	GuestID string
}

// Authenticated 是否为登录用户
func (c Caller) Authenticated() bool {
	return c.UserID != 0
}

// Anonymous 既没有登录也没有访客 ID
func (c Caller) Anonymous() bool {
	return c.UserID == 0 && c.GuestID == ""
}

// newInteraction 按调用方身份构造交互记录
func newInteraction(caller Caller, characterID int64, action string, metadata map[string]interface{}) *model.Interaction {
	in := &model.Interaction{Action: action, Metadata: metadata}
	if caller.Authenticated() {
		uid := caller.UserID
		in.UserID = &uid
	} else if caller.GuestID != "" {
		gid := caller.GuestID
		in.GuestID = &gid
	}
	if characterID != 0 {
		cid := characterID
		in.CharacterID = &cid
	}
	return in
}

// recordDetached 通过后台任务写入交互记录，recorder 或 tasks 为空时跳过
func recordDetached(tasks TaskSubmitter, recorder InteractionRecorder, in *model.Interaction) {
	if tasks == nil || recorder == nil {
		return
	}
	tasks.Submit("interaction:"+in.Action, func(ctx context.Context) error {
		return recorder.Record(ctx, in)
	})
}
