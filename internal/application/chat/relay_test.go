package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telegen-ai-gateway/internal/application/billing"
	"telegen-ai-gateway/internal/domain/entity"
	"telegen-ai-gateway/internal/domain/repository"
	"telegen-ai-gateway/internal/infrastructure/llm"
	"telegen-ai-gateway/pkg/errors"
)

// --- fakes ---

type fakeProvider struct {
	name      string
	chunks    []string
	streamErr error
	cancelled bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, modelID string, onChunk llm.ChunkHandler) error {
	for _, chunk := range p.chunks {
		if ctx.Err() != nil {
			p.cancelled = true
			return ctx.Err()
		}
		onChunk(chunk)
	}
	return p.streamErr
}

type sinkEvent struct {
	kind    string // chunk / error / done
	payload string
}

type fakeSink struct {
	events    []sinkEvent
	failAfter int // 第 N 次 SendChunk 开始失败，0 表示不失败
	sent      int
}

func (s *fakeSink) SendChunk(content string) error {
	s.sent++
	if s.failAfter > 0 && s.sent >= s.failAfter {
		return fmt.Errorf("broken pipe")
	}
	s.events = append(s.events, sinkEvent{kind: "chunk", payload: content})
	return nil
}

func (s *fakeSink) SendError(message string) error {
	s.events = append(s.events, sinkEvent{kind: "error", payload: message})
	return nil
}

func (s *fakeSink) SendDone() error {
	s.events = append(s.events, sinkEvent{kind: "done"})
	return nil
}

type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*entity.Account
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
	r.accounts[id].Credits -= amount
	return nil
}

type fakeConversationRepo struct{ created int }

func (r *fakeConversationRepo) Create(ctx context.Context, c *entity.Conversation) error {
	r.created++
	c.ID = fmt.Sprintf("conv-%d", r.created)
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return nil, nil
}

type fakeMessageRepo struct{ created []*entity.Message }

func (r *fakeMessageRepo) Create(ctx context.Context, m *entity.Message) error {
	m.ID = fmt.Sprintf("msg-%d", len(r.created)+1)
	r.created = append(r.created, m)
	return nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, id string, p repository.Pagination) (*repository.PagedResult[*entity.Message], error) {
	return repository.NewPagedResult[*entity.Message](nil, 0, p), nil
}

type fakeUsageRepo struct{ created []*entity.UsageRecord }

func (r *fakeUsageRepo) Create(ctx context.Context, record *entity.UsageRecord) error {
	r.created = append(r.created, record)
	return nil
}

func (r *fakeUsageRepo) ListByAccount(ctx context.Context, id string, p repository.Pagination) (*repository.PagedResult[*entity.UsageRecord], error) {
	return repository.NewPagedResult[*entity.UsageRecord](nil, 0, p), nil
}

type testEnv struct {
	service  *Service
	provider *fakeProvider
	accounts *fakeAccountRepo
	usage    *fakeUsageRepo
	messages *fakeMessageRepo
}

func newTestEnv(provider *fakeProvider, credits float64) *testEnv {
	accounts := &fakeAccountRepo{accounts: map[string]*entity.Account{
		"alice": {ID: "alice", Credits: credits},
	}}
	messages := &fakeMessageRepo{}
	usage := &fakeUsageRepo{}
	settler := billing.NewSettler(fakeTx{}, accounts, &fakeConversationRepo{}, messages, usage, billing.NewPricer(0.01), 10.0)
	registry := llm.NewRegistryWithProviders(provider)

	return &testEnv{
		service:  NewService(registry, settler),
		provider: provider,
		accounts: accounts,
		usage:    usage,
		messages: messages,
	}
}

func testRequest() Request {
	return Request{
		AccountID: "alice",
		Provider:  "fake",
		ModelID:   "test-model",
		Messages:  []llm.ChatMessage{{Role: "user", Content: "hi"}},
	}
}

// --- tests ---

func TestPrepareRejectsMissingParams(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"}, 10)

	req := testRequest()
	req.Messages = nil
	_, err := env.service.Prepare(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidParam, errors.AsAppError(err).Code)
}

func TestPrepareRejectsUnknownProvider(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"}, 10)

	req := testRequest()
	req.Provider = "gemini"
	_, err := env.service.Prepare(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, errors.CodeProviderNotConfigured, errors.AsAppError(err).Code)
}

func TestPrepareGatesExhaustedAccount(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake", chunks: []string{"never"}}, 0)

	_, err := env.service.Prepare(context.Background(), testRequest())

	require.Error(t, err)
	assert.Equal(t, errors.CodeInsufficientCredits, errors.AsAppError(err).Code)
}

func TestPrepareAutoCreatesUnknownAccount(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"}, 10)

	req := testRequest()
	req.AccountID = "bob"
	_, err := env.service.Prepare(context.Background(), req)
	require.NoError(t, err)

	// 新账户带初始余额创建，直接通过门禁
	account, err := env.accounts.GetByID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 10.0, account.Credits)
}

func TestRunForwardsChunksAndSettles(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake", chunks: []string{"Hel", "lo", " world"}}, 10)

	session, err := env.service.Prepare(context.Background(), testRequest())
	require.NoError(t, err)

	sink := &fakeSink{}
	require.NoError(t, session.Run(context.Background(), sink))

	require.Len(t, sink.events, 4)
	assert.Equal(t, sinkEvent{kind: "chunk", payload: "Hel"}, sink.events[0])
	assert.Equal(t, sinkEvent{kind: "chunk", payload: "lo"}, sink.events[1])
	assert.Equal(t, sinkEvent{kind: "chunk", payload: " world"}, sink.events[2])
	assert.Equal(t, "done", sink.events[3].kind)

	// 总用量 = 输入估算 + 完整累计输出估算，结算恰好一次
	require.Len(t, env.usage.created, 1)
	wantTokens := billing.EstimateTokens("hi") + billing.EstimateTokens("Hello world")
	assert.Equal(t, wantTokens, env.usage.created[0].TokensUsed)

	account, err := env.accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Less(t, account.Credits, 10.0)
}

func TestRunEmptyOutputSkipsSettlement(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"}, 10)

	session, err := env.service.Prepare(context.Background(), testRequest())
	require.NoError(t, err)

	sink := &fakeSink{}
	require.NoError(t, session.Run(context.Background(), sink))

	require.Len(t, sink.events, 1)
	assert.Equal(t, "done", sink.events[0].kind)
	assert.Empty(t, env.usage.created)

	account, err := env.accounts.GetByID(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 10.0, account.Credits)
}

func TestRunUpstreamErrorSettlesPartialOutput(t *testing.T) {
	env := newTestEnv(&fakeProvider{
		name:      "fake",
		chunks:    []string{"partial output"},
		streamErr: fmt.Errorf("upstream exploded"),
	}, 10)

	session, err := env.service.Prepare(context.Background(), testRequest())
	require.NoError(t, err)

	sink := &fakeSink{}
	err = session.Run(context.Background(), sink)
	require.Error(t, err)

	// 错误以流内事件交付，终止哨兵照常收尾
	require.Len(t, sink.events, 3)
	assert.Equal(t, "chunk", sink.events[0].kind)
	assert.Equal(t, "error", sink.events[1].kind)
	assert.Contains(t, sink.events[1].payload, "upstream exploded")
	assert.Equal(t, "done", sink.events[2].kind)

	// 已交付的部分照常计费
	require.Len(t, env.usage.created, 1)
	wantTokens := billing.EstimateTokens("hi") + billing.EstimateTokens("partial output")
	assert.Equal(t, wantTokens, env.usage.created[0].TokensUsed)
}

func TestRunClientDisconnectCancelsUpstream(t *testing.T) {
	provider := &fakeProvider{name: "fake", chunks: []string{"one", "two", "three"}}
	env := newTestEnv(provider, 10)

	session, err := env.service.Prepare(context.Background(), testRequest())
	require.NoError(t, err)

	sink := &fakeSink{failAfter: 2}
	err = session.Run(context.Background(), sink)
	require.Error(t, err)

	// 客户端断开后上游被取消
	assert.True(t, provider.cancelled)

	// 断开前累计的内容仍然入账
	require.Len(t, env.usage.created, 1)
	wantTokens := billing.EstimateTokens("hi") + billing.EstimateTokens("onetwo")
	assert.Equal(t, wantTokens, env.usage.created[0].TokensUsed)
}
