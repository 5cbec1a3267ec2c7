package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		// 5 chars / 4 = ceil 2, 1 word * 1.3 = ceil 2
		{"single word", "Hello", 2},
		// 11 chars / 4 = ceil 3, 2 words * 1.3 = ceil 3
		{"two words", "Hello world", 3},
		// 1 char / 4 = ceil 1, 1 word * 1.3 = ceil 2 → 词估算占优
		{"single char", "a", 2},
		// 长单词：40 chars / 4 = 10, 1 word * 1.3 = 2 → 字符估算占优
		{"long word", strings.Repeat("x", 40), 10},
		{"whitespace only collapses words", "   ", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestEstimateTokensMonotonicBounds(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog"
	tokens := EstimateTokens(text)

	// 估算结果不低于两种估法各自的下界
	assert.GreaterOrEqual(t, tokens, len(text)/4)
	assert.GreaterOrEqual(t, tokens, len(strings.Fields(text)))
}

func TestPricerCost(t *testing.T) {
	pricer := NewPricer(0.01)

	assert.InDelta(t, 0.01, pricer.Cost(1000, "any-model"), 1e-9)
	assert.InDelta(t, 0.005, pricer.Cost(500, "any-model"), 1e-9)
	assert.Zero(t, pricer.Cost(0, "any-model"))
}

// --- in-memory fakes ---

type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*entity.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*entity.Account)}
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *entity.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.ID] = account
	return nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *account
	return &copied, nil
}

func (r *fakeAccountRepo) DebitCredits(ctx context.Context, id string, amount float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("account not found: %s", id)
	}
	account.Credits -= amount
	return nil
}

type fakeConversationRepo struct {
	mu      sync.Mutex
	created []*entity.Conversation
}

func (r *fakeConversationRepo) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation.ID = fmt.Sprintf("conv-%d", len(r.created)+1)
	r.created = append(r.created, conversation)
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.created {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

type fakeMessageRepo struct {
	mu      sync.Mutex
	created []*entity.Message
	failOn  error
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	if r.failOn != nil {
		return r.failOn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	message.ID = fmt.Sprintf("msg-%d", len(r.created)+1)
	r.created = append(r.created, message)
	return nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, conversationID string, p repository.Pagination) (*repository.PagedResult[*entity.Message], error) {
	return repository.NewPagedResult[*entity.Message](nil, 0, p), nil
}

type fakeUsageRepo struct {
	mu      sync.Mutex
	created []*entity.UsageRecord
	failOn  error
}

func (r *fakeUsageRepo) Create(ctx context.Context, record *entity.UsageRecord) error {
	if r.failOn != nil {
		return r.failOn
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, record)
	return nil
}

func (r *fakeUsageRepo) ListByAccount(ctx context.Context, accountID string, p repository.Pagination) (*repository.PagedResult[*entity.UsageRecord], error) {
	return repository.NewPagedResult[*entity.UsageRecord](nil, 0, p), nil
}

func newTestSettler(accounts *fakeAccountRepo, messages *fakeMessageRepo, usage *fakeUsageRepo) (*Settler, *fakeConversationRepo) {
	conversations := &fakeConversationRepo{}
	settler := NewSettler(fakeTx{}, accounts, conversations, messages, usage, NewPricer(0.01), 10.0)
	return settler, conversations
}

func TestEnsureAccountAutoCreates(t *testing.T) {
	accounts := newFakeAccountRepo()
	settler, _ := newTestSettler(accounts, &fakeMessageRepo{}, &fakeUsageRepo{})

	account, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.ID)
	assert.Equal(t, 10.0, account.Credits)
	assert.Equal(t, "alice@example.com", account.Email)

	// 第二次引用返回已有账户，不重置余额
	require.NoError(t, accounts.DebitCredits(context.Background(), "alice", 3))
	again, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 7.0, again.Credits)
}

func TestSettleCreatesMessageRecordAndDebits(t *testing.T) {
	accounts := newFakeAccountRepo()
	messages := &fakeMessageRepo{}
	usage := &fakeUsageRepo{}
	settler, conversations := newTestSettler(accounts, messages, usage)

	_, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)

	content := strings.Repeat("word ", 200) // 1000 chars → 250 tokens by chars, 260 by words
	result, err := settler.Settle(context.Background(), SettlementInput{
		AccountID: "alice",
		Provider:  "openrouter",
		ModelID:   "openai/gpt-4o-mini",
		Content:   content,
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	wantTokens := EstimateTokens(content)
	assert.Equal(t, wantTokens, result.Tokens)
	assert.InDelta(t, float64(wantTokens)/1000*0.01, result.Cost, 1e-9)

	// 消息被包裹在新建的私聊会话里
	require.Len(t, conversations.created, 1)
	assert.Equal(t, entity.ConversationTypePrivate, conversations.created[0].Type)
	require.Len(t, messages.created, 1)
	assert.Equal(t, conversations.created[0].ID, messages.created[0].ConversationID)
	assert.Equal(t, entity.SenderTypeAgent, messages.created[0].SenderType)
	assert.Equal(t, wantTokens, messages.created[0].TokenUsage)

	// 用量记录指向消息
	require.Len(t, usage.created, 1)
	assert.Equal(t, messages.created[0].ID, usage.created[0].MessageID)
	assert.Equal(t, "openrouter", usage.created[0].Provider)

	account, err := accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10.0-result.Cost, account.Credits, 1e-9)
}

func TestSettleReusesExistingConversation(t *testing.T) {
	accounts := newFakeAccountRepo()
	messages := &fakeMessageRepo{}
	settler, conversations := newTestSettler(accounts, messages, &fakeUsageRepo{})

	_, err := settler.EnsureAccount(context.Background(), "op")
	require.NoError(t, err)

	agentID := "agent-1"
	result, err := settler.Settle(context.Background(), SettlementInput{
		AccountID:      "op",
		Provider:       "openrouter",
		ModelID:        "m",
		Content:        "channel post body",
		ConversationID: "channel-42",
		AgentID:        &agentID,
	})
	require.NoError(t, err)

	assert.Empty(t, conversations.created)
	assert.Equal(t, "channel-42", result.Message.ConversationID)
	require.NotNil(t, result.Message.SenderAgentID)
	assert.Equal(t, "agent-1", *result.Message.SenderAgentID)
}

func TestSettleIncludesInputTokens(t *testing.T) {
	accounts := newFakeAccountRepo()
	usage := &fakeUsageRepo{}
	settler, _ := newTestSettler(accounts, &fakeMessageRepo{}, usage)

	_, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)

	result, err := settler.Settle(context.Background(), SettlementInput{
		AccountID:   "alice",
		Provider:    "openrouter",
		ModelID:     "m",
		InputTokens: 100,
		Content:     "Hello world",
	})
	require.NoError(t, err)

	wantTokens := 100 + EstimateTokens("Hello world")
	assert.Equal(t, wantTokens, result.Tokens)
	require.Len(t, usage.created, 1)
	assert.Equal(t, wantTokens, usage.created[0].TokensUsed)
}

func TestSettleSkipsEmptyOutput(t *testing.T) {
	accounts := newFakeAccountRepo()
	messages := &fakeMessageRepo{}
	usage := &fakeUsageRepo{}
	settler, _ := newTestSettler(accounts, messages, usage)

	_, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)

	result, err := settler.Settle(context.Background(), SettlementInput{
		AccountID: "alice",
		Provider:  "openrouter",
		ModelID:   "m",
		Content:   "",
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, messages.created)
	assert.Empty(t, usage.created)

	account, err := accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 10.0, account.Credits)
}

func TestSettleFailurePreventsDebit(t *testing.T) {
	accounts := newFakeAccountRepo()
	usage := &fakeUsageRepo{failOn: fmt.Errorf("disk full")}
	settler, _ := newTestSettler(accounts, &fakeMessageRepo{}, usage)

	_, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)

	_, err = settler.Settle(context.Background(), SettlementInput{
		AccountID: "alice",
		Provider:  "openrouter",
		ModelID:   "m",
		Content:   "some output",
	})
	require.Error(t, err)

	account, getErr := accounts.GetByID(context.Background(), "alice")
	require.NoError(t, getErr)
	assert.Equal(t, 10.0, account.Credits)
}

func TestConcurrentSettlementsSerialize(t *testing.T) {
	accounts := newFakeAccountRepo()
	settler, _ := newTestSettler(accounts, &fakeMessageRepo{}, &fakeUsageRepo{})

	_, err := settler.EnsureAccount(context.Background(), "alice")
	require.NoError(t, err)

	content := strings.Repeat("hello world ", 50)
	cost := NewPricer(0.01).Cost(EstimateTokens(content), "m")

	const n = 20
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, settleErr := settler.Settle(context.Background(), SettlementInput{
				AccountID: "alice",
				Provider:  "openrouter",
				ModelID:   "m",
				Content:   content,
			})
			return settleErr
		})
	}
	require.NoError(t, g.Wait())

	account, err := accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.InDelta(t, 10.0-float64(n)*cost, account.Credits, 1e-6)
}
