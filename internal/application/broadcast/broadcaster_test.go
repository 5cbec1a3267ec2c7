package broadcast

import (
	"context"
	"fmt"
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
	gotPrompt string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, modelID string, onChunk llm.ChunkHandler) error {
	if len(messages) > 0 {
		p.gotPrompt = messages[0].Content
	}
	for _, chunk := range p.chunks {
		onChunk(chunk)
	}
	return p.streamErr
}

type fakeConversationRepo struct {
	channels map[string]*entity.Conversation
}

func (r *fakeConversationRepo) Create(ctx context.Context, c *entity.Conversation) error {
	c.ID = "conv-new"
	return nil
}

func (r *fakeConversationRepo) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	return r.channels[id], nil
}

type fakeTx struct{}

func (fakeTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAccountRepo struct {
	accounts map[string]*entity.Account
}

func (r *fakeAccountRepo) Create(ctx context.Context, a *entity.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAccountRepo) DebitCredits(ctx context.Context, id string, amount float64) error {
	r.accounts[id].Credits -= amount
	return nil
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

func channelWithAgents(id string, agents ...*entity.Agent) *entity.Conversation {
	channel := &entity.Conversation{
		ID:   id,
		Type: entity.ConversationTypeChannel,
	}
	for _, agent := range agents {
		agentID := agent.ID
		channel.Participants = append(channel.Participants, entity.Participant{
			ConversationID: id,
			AgentID:        &agentID,
			Agent:          agent,
		})
	}
	// 频道总有至少一个账户订阅者
	subscriber := "reader-1"
	channel.Participants = append(channel.Participants, entity.Participant{
		ConversationID: id,
		AccountID:      &subscriber,
	})
	return channel
}

type testEnv struct {
	broadcaster *Broadcaster
	provider    *fakeProvider
	accounts    *fakeAccountRepo
	messages    *fakeMessageRepo
	usage       *fakeUsageRepo
}

func newTestEnv(provider *fakeProvider, channels ...*entity.Conversation) *testEnv {
	conversations := &fakeConversationRepo{channels: make(map[string]*entity.Conversation)}
	for _, c := range channels {
		conversations.channels[c.ID] = c
	}
	accounts := &fakeAccountRepo{accounts: make(map[string]*entity.Account)}
	messages := &fakeMessageRepo{}
	usage := &fakeUsageRepo{}
	settler := billing.NewSettler(fakeTx{}, accounts, conversations, messages, usage, billing.NewPricer(0.01), 10.0)

	return &testEnv{
		broadcaster: NewBroadcaster(conversations, nil, llm.NewRegistryWithProviders(provider), settler, nil, "system"),
		provider:    provider,
		accounts:    accounts,
		messages:    messages,
		usage:       usage,
	}
}

var testAgent = &entity.Agent{ID: "agent-1", Name: "newsbot", Provider: "fake", ModelID: "test-model"}

// --- tests ---

func TestBroadcastUnknownChannel(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"})

	_, err := env.broadcaster.Broadcast(context.Background(), "missing", "go releases")

	require.Error(t, err)
	assert.Equal(t, errors.CodeChannelNotFound, errors.AsAppError(err).Code)
	assert.Empty(t, env.messages.created)
}

func TestBroadcastRejectsNonChannelConversation(t *testing.T) {
	private := &entity.Conversation{ID: "dm-1", Type: entity.ConversationTypePrivate}
	env := newTestEnv(&fakeProvider{name: "fake"}, private)

	_, err := env.broadcaster.Broadcast(context.Background(), "dm-1", "topic")

	require.Error(t, err)
	assert.Equal(t, errors.CodeChannelNotFound, errors.AsAppError(err).Code)
}

func TestBroadcastRequiresExactlyOneAgent(t *testing.T) {
	second := &entity.Agent{ID: "agent-2", Name: "other", Provider: "fake", ModelID: "m"}

	tests := []struct {
		name    string
		channel *entity.Conversation
	}{
		{"no agents", channelWithAgents("ch-0")},
		{"two agents", channelWithAgents("ch-2", testAgent, second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(&fakeProvider{name: "fake", chunks: []string{"never"}}, tt.channel)

			_, err := env.broadcaster.Broadcast(context.Background(), tt.channel.ID, "topic")

			require.Error(t, err)
			assert.Equal(t, errors.CodeChannelInvalidState, errors.AsAppError(err).Code)
			assert.Empty(t, env.messages.created)
		})
	}
}

func TestBroadcastPublishesToChannelAndChargesOperator(t *testing.T) {
	provider := &fakeProvider{name: "fake", chunks: []string{"📣 Go 1.24 is out! ", "Generics got faster."}}
	env := newTestEnv(provider, channelWithAgents("ch-1", testAgent))

	message, err := env.broadcaster.Broadcast(context.Background(), "ch-1", "go releases")
	require.NoError(t, err)

	assert.Contains(t, provider.gotPrompt, "go releases")

	// 消息直接落在频道里，发送方是绑定的 Agent
	assert.Equal(t, "ch-1", message.ConversationID)
	assert.Equal(t, entity.SenderTypeAgent, message.SenderType)
	require.NotNil(t, message.SenderAgentID)
	assert.Equal(t, "agent-1", *message.SenderAgentID)
	assert.Equal(t, "📣 Go 1.24 is out! Generics got faster.", message.Content)

	// 费用记在运营账户上
	require.Len(t, env.usage.created, 1)
	assert.Equal(t, "system", env.usage.created[0].AccountID)

	operator, err := env.accounts.GetByID(context.Background(), "system")
	require.NoError(t, err)
	assert.Less(t, operator.Credits, 10.0)
}

func TestBroadcastUpstreamFailureLeavesNoTrace(t *testing.T) {
	provider := &fakeProvider{name: "fake", streamErr: fmt.Errorf("model overloaded")}
	env := newTestEnv(provider, channelWithAgents("ch-1", testAgent))

	_, err := env.broadcaster.Broadcast(context.Background(), "ch-1", "topic")

	require.Error(t, err)
	assert.Empty(t, env.messages.created)
	assert.Empty(t, env.usage.created)
}

func TestBroadcastEmptyOutputFails(t *testing.T) {
	env := newTestEnv(&fakeProvider{name: "fake"}, channelWithAgents("ch-1", testAgent))

	_, err := env.broadcaster.Broadcast(context.Background(), "ch-1", "topic")

	require.Error(t, err)
	assert.Equal(t, errors.CodeUpstreamError, errors.AsAppError(err).Code)
	assert.Empty(t, env.messages.created)
}
