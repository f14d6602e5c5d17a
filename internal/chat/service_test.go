package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/couples-chat/internal/ai"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/memory"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"github.com/suPer8Hu/couples-chat/internal/sessions"
	"gorm.io/gorm"
)

type recordingProvider struct {
	last  []ai.Message
	reply string
	err   error
}

func (p *recordingProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	// copy to avoid mutations
	p.last = append([]ai.Message(nil), messages...)
	if p.err != nil {
		return "", p.err
	}
	if p.reply == "" {
		return "ok", nil
	}
	return p.reply, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	byAgent map[string][]memory.Item
	fail    map[string]bool
	queried []string
}

func (f *fakeSearcher) Search(_ context.Context, agentID, _ string, _ int) ([]memory.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, agentID)
	if f.fail[agentID] {
		return nil, errors.New("memory service down")
	}
	return f.byAgent[agentID], nil
}

type recordingDispatcher struct {
	jobs []memory.WriteJob
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job memory.WriteJob) error {
	d.jobs = append(d.jobs, job)
	return d.err
}

type fakeCouples struct {
	couple *models.Couple
}

func (f *fakeCouples) GetCouple(_ context.Context, id, requesterID uint64) (*models.Couple, error) {
	if f.couple == nil || f.couple.ID != id {
		return nil, apperr.ErrCoupleNotFound
	}
	if !f.couple.HasMember(requesterID) {
		return nil, apperr.ErrNotCoupleMember
	}
	return f.couple, nil
}

type fakeParticipants struct {
	members map[uint64][]uint64 // session -> users
}

func (f *fakeParticipants) Participation(_ context.Context, sessionID, userID uint64) (*sessions.Participant, error) {
	for _, u := range f.members[sessionID] {
		if u == userID {
			return &sessions.Participant{SessionID: sessionID, UserID: userID, IsActive: true}, nil
		}
	}
	return nil, apperr.ErrNotParticipant
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Message{}))
	return db
}

type fixture struct {
	db       *gorm.DB
	provider *recordingProvider
	search   *fakeSearcher
	writes   *recordingDispatcher
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       openTestDB(t),
		provider: &recordingProvider{reply: "I hear you."},
		search:   &fakeSearcher{byAgent: map[string][]memory.Item{}, fail: map[string]bool{}},
		writes:   &recordingDispatcher{},
	}
	f.svc = NewService(Deps{
		Repo:         NewRepo(f.db),
		Provider:     f.provider,
		Memories:     f.search,
		Writer:       f.writes,
		Couples:      &fakeCouples{couple: &models.Couple{ID: 3, User1ID: 10, User2ID: 11, IsActive: true}},
		Participants: &fakeParticipants{members: map[uint64][]uint64{100: {10, 11}}},
	})
	return f
}

func u64(v uint64) *uint64 { return &v }

func TestHandleMessage_IndividualMode(t *testing.T) {
	f := newFixture(t)
	f.search.byAgent["user_10"] = []memory.Item{{Memory: "Likes hiking"}}

	res, err := f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 10,
		Message:     "I feel distant lately",
		UserID:      u64(10),
	})
	require.NoError(t, err)

	assert.Equal(t, ModeIndividual, res.TherapyMode)
	assert.Equal(t, "user_10", res.UserAgentID)
	assert.Empty(t, res.CoupleAgentID)
	assert.Equal(t, 1, res.MemoriesUsed)
	assert.Equal(t, "I hear you.", res.AIResponse)
	assert.Nil(t, res.MessageID)

	require.Len(t, f.provider.last, 2)
	assert.Equal(t, ai.RoleSystem, f.provider.last[0].Role)
	assert.Equal(t, ai.RoleUser, f.provider.last[1].Role)
	assert.Contains(t, f.provider.last[1].Content, "Likes hiking")
	assert.Contains(t, f.provider.last[1].Content, "I feel distant lately")

	require.Len(t, f.writes.jobs, 1)
	assert.Equal(t, []string{"user_10"}, f.writes.jobs[0].AgentIDs)
	assert.True(t, strings.HasSuffix(f.writes.jobs[0].Content, ": I feel distant lately"))
}

func TestHandleMessage_IndividualModeRequiresOwnUserID(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleMessage(context.Background(), Request{RequesterID: 10, Message: "hi"})
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))

	_, err = f.svc.HandleMessage(context.Background(), Request{RequesterID: 10, Message: "hi", UserID: u64(11)})
	assert.Equal(t, apperr.CodePermissionDenied, apperr.CodeOf(err))
	assert.Empty(t, f.writes.jobs)
}

func TestHandleMessage_CoupleModeOrdersSharedBeforePartner(t *testing.T) {
	f := newFixture(t)
	f.search.byAgent["couple_3"] = []memory.Item{{Memory: "They met in Lisbon"}}
	f.search.byAgent["couple_3_partner_alice"] = []memory.Item{{Memory: "Alice works nights"}}

	res, err := f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 10,
		Message:     "We keep arguing about chores",
		Partner:     "Alice",
		CoupleNames: map[string]string{"Alice": "Alice Smith"},
		CoupleID:    u64(3),
	})
	require.NoError(t, err)

	assert.Equal(t, ModeCouple, res.TherapyMode)
	assert.Equal(t, "couple_3", res.CoupleAgentID)
	assert.Equal(t, "couple_3_partner_alice", res.PartnerAgentID)
	assert.Equal(t, 1, res.SharedMemories)
	assert.Equal(t, 1, res.PartnerMemories)
	assert.Equal(t, 2, res.MemoriesUsed)

	prompt := f.provider.last[1].Content
	assert.Less(t, strings.Index(prompt, "They met in Lisbon"), strings.Index(prompt, "Alice works nights"))
	assert.Contains(t, prompt, "Alice Smith")

	require.Len(t, f.writes.jobs, 1)
	assert.Equal(t, []string{"couple_3", "couple_3_partner_alice"}, f.writes.jobs[0].AgentIDs)
	assert.Equal(t, "Alice Smith: We keep arguing about chores", f.writes.jobs[0].Content)
}

func TestHandleMessage_CountsOnlyMemoriesWithText(t *testing.T) {
	f := newFixture(t)
	f.search.byAgent["user_10"] = []memory.Item{{ID: "a", Memory: "  "}, {ID: "b", Memory: ""}}

	res, err := f.svc.HandleMessage(context.Background(), Request{RequesterID: 10, Message: "hello", UserID: u64(10)})
	require.NoError(t, err)

	assert.Equal(t, 0, res.MemoriesUsed)
	assert.Equal(t, 0, res.SharedMemories)
	assert.Contains(t, f.provider.last[1].Content, "No relevant context from previous conversations.")
	assert.Len(t, f.search.byAgent["user_10"], 2)
}

func TestHandleMessage_DispatchFailureKeepsReply(t *testing.T) {
	f := newFixture(t)
	f.writes.err = errors.New("broker unreachable")

	res, err := f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 10,
		Message:     "Today was better",
		UserID:      u64(10),
		SessionID:   u64(100),
	})
	require.NoError(t, err)
	assert.Equal(t, "I hear you.", res.AIResponse)
	assert.NotNil(t, res.MessageID)
	assert.Len(t, f.writes.jobs, 1)
}

func TestHandleMessage_CoupleModeRejectsOutsiders(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleMessage(context.Background(), Request{RequesterID: 99, Message: "hi", CoupleID: u64(3)})
	assert.ErrorIs(t, err, apperr.ErrNotCoupleMember)

	_, err = f.svc.HandleMessage(context.Background(), Request{RequesterID: 10, Message: "hi", CoupleID: u64(4)})
	assert.ErrorIs(t, err, apperr.ErrCoupleNotFound)
}

func TestHandleMessage_DegradesOnServiceFailures(t *testing.T) {
	f := newFixture(t)
	f.search.fail["couple_3"] = true
	f.provider.err = errors.New("upstream 529")

	res, err := f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 11,
		Message:     "hello",
		SenderID:    "B",
		CoupleID:    u64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, FallbackReply, res.AIResponse)
	assert.Equal(t, 0, res.MemoriesUsed)
	assert.Len(t, f.writes.jobs, 1)
}

func TestHandleMessage_PersistsExchangeForParticipants(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 10,
		Message:     "Hello",
		UserID:      u64(10),
		SessionID:   u64(100),
	})
	require.NoError(t, err)
	require.NotNil(t, res.MessageID)

	var msgs []Message
	require.NoError(t, f.db.Where("session_id = ?", 100).Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, SenderHuman, msgs[0].SenderType)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, SenderAI, msgs[1].SenderType)
	assert.Equal(t, "I hear you.", msgs[1].Content)
	require.NotNil(t, msgs[1].ReplyToMessageID)
	assert.Equal(t, msgs[0].ID, *msgs[1].ReplyToMessageID)
	assert.Equal(t, msgs[1].ID, *res.MessageID)

	_, err = f.svc.HandleMessage(context.Background(), Request{
		RequesterID: 12,
		Message:     "Hello",
		UserID:      u64(12),
		SessionID:   u64(100),
	})
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}

func TestListMessages_NewestFirstWithCursor(t *testing.T) {
	f := newFixture(t)
	repo := NewRepo(f.db)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.InsertMessage(context.Background(), &Message{
			SessionID:     100,
			UserID:        10,
			Content:       "seed",
			SenderType:    SenderHuman,
			MessageStatus: StatusSent,
		}))
	}

	page, err := f.svc.ListMessages(context.Background(), 11, 100, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Greater(t, page[0].ID, page[1].ID)

	next, err := f.svc.ListMessages(context.Background(), 11, 100, 10, page[1].ID)
	require.NoError(t, err)
	assert.Len(t, next, 3)
	for _, m := range next {
		assert.Less(t, m.ID, page[1].ID)
	}

	_, err = f.svc.ListMessages(context.Background(), 12, 100, 10, 0)
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}
