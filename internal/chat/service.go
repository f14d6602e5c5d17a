package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/suPer8Hu/couples-chat/internal/ai"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/common"
	"github.com/suPer8Hu/couples-chat/internal/logger"
	"github.com/suPer8Hu/couples-chat/internal/memory"
	"github.com/suPer8Hu/couples-chat/internal/metrics"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"github.com/suPer8Hu/couples-chat/internal/sessions"
	"go.uber.org/zap"
)

const (
	ModeIndividual = "individual"
	ModeCouple     = "couple"

	// FallbackReply is returned in place of a completion when the completion service fails.
	FallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."
)

type CoupleLookup interface {
	GetCouple(ctx context.Context, id, requesterID uint64) (*models.Couple, error)
}

type ParticipantLookup interface {
	Participation(ctx context.Context, sessionID, userID uint64) (*sessions.Participant, error)
}

type Request struct {
	RequesterID uint64
	Message     string
	SenderID    string
	Partner     string
	CoupleNames map[string]string
	CoupleID    *uint64
	UserID      *uint64
	SessionID   *uint64
}

type Result struct {
	AIResponse      string  `json:"ai_response"`
	MemoriesUsed    int     `json:"memories_used"`
	TherapyMode     string  `json:"therapy_mode"`
	SharedMemories  int     `json:"shared_memories"`
	PartnerMemories int     `json:"partner_memories"`
	CoupleAgentID   string  `json:"couple_agent_id,omitempty"`
	UserAgentID     string  `json:"user_agent_id,omitempty"`
	PartnerAgentID  string  `json:"partner_agent_id,omitempty"`
	MessageID       *uint64 `json:"message_id,omitempty"`
}

type Service struct {
	repo         *Repo
	provider     ai.Provider
	memories     memory.Searcher
	writer       memory.Dispatcher
	couples      CoupleLookup
	participants ParticipantLookup
	searchLimit  int
}

type Deps struct {
	Repo         *Repo
	Provider     ai.Provider
	Memories     memory.Searcher
	Writer       memory.Dispatcher
	Couples      CoupleLookup
	Participants ParticipantLookup
	SearchLimit  int
}

func NewService(d Deps) *Service {
	if d.SearchLimit <= 0 || d.SearchLimit > 50 {
		d.SearchLimit = 5
	}
	return &Service{
		repo:         d.Repo,
		provider:     d.Provider,
		memories:     d.Memories,
		writer:       d.Writer,
		couples:      d.Couples,
		participants: d.Participants,
		searchLimit:  d.SearchLimit,
	}
}

type namespaces struct {
	mode    string
	shared  string
	partner string
	speaker string
}

func (s *Service) resolve(ctx context.Context, req Request) (*namespaces, error) {
	if req.CoupleID != nil {
		c, err := s.couples.GetCouple(ctx, *req.CoupleID, req.RequesterID)
		if err != nil {
			return nil, err
		}
		ns := &namespaces{mode: ModeCouple, shared: memory.CoupleNamespace(c.ID)}
		ns.speaker = strings.TrimSpace(req.Partner)
		if ns.speaker == "" {
			ns.speaker = strings.TrimSpace(req.SenderID)
		}
		ns.partner = memory.PartnerNamespace(c.ID, ns.speaker)
		return ns, nil
	}

	if req.UserID == nil {
		return nil, apperr.InvalidArg("user_id is required when couple_id is absent")
	}
	if *req.UserID != req.RequesterID {
		return nil, errOtherUser
	}
	speaker := strings.TrimSpace(req.SenderID)
	if speaker == "" {
		speaker = strconv.FormatUint(req.RequesterID, 10)
	}
	return &namespaces{
		mode:    ModeIndividual,
		shared:  memory.UserNamespace(*req.UserID),
		speaker: speaker,
	}, nil
}

// search never fails; errors are logged and yield no memories. Items with no
// text are dropped so the counts match what the prompt shows.
func (s *Service) search(ctx context.Context, agentID, query string) []memory.Item {
	if agentID == "" || s.memories == nil {
		return nil
	}
	items, err := s.memories.Search(ctx, agentID, query, s.searchLimit)
	metrics.MemoryOps.WithLabelValues("search", metrics.Outcome(err)).Inc()
	if err != nil {
		logger.FromContext(ctx).Warn("memory search failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return nil
	}
	out := make([]memory.Item, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Memory) != "" {
			out = append(out, it)
		}
	}
	return out
}

func (s *Service) complete(ctx context.Context, msgs []ai.Message) string {
	start := time.Now()
	reply, err := s.provider.Chat(ctx, msgs)
	metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errEmptyCompletion
	}
	metrics.CompletionCalls.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		logger.FromContext(ctx).Error("completion failed",
			zap.Duration("cost", time.Since(start)),
			zap.Error(err),
		)
		return FallbackReply
	}
	return reply
}

var (
	errEmptyCompletion = errors.New("completion returned no text")
	errOtherUser       = apperr.Forbidden("user_id must be the authenticated user")
)

// HandleMessage answers one user turn. Memory and completion failures degrade
// the reply and never fail the call.
func (s *Service) HandleMessage(ctx context.Context, req Request) (*Result, error) {
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, apperr.InvalidArg("message is required")
	}

	ns, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	var human *Message
	if req.SessionID != nil {
		if _, err := s.participants.Participation(ctx, *req.SessionID, req.RequesterID); err != nil {
			return nil, err
		}
		human = &Message{
			SessionID:     *req.SessionID,
			UserID:        req.RequesterID,
			Content:       req.Message,
			SenderType:    SenderHuman,
			MessageStatus: StatusSent,
		}
		if err := s.repo.InsertMessage(ctx, human); err != nil {
			return nil, apperr.Internal("store message", err)
		}
	}

	shared := s.search(ctx, ns.shared, req.Message)
	partner := s.search(ctx, ns.partner, req.Message)
	all := make([]memory.Item, 0, len(shared)+len(partner))
	all = append(all, shared...)
	all = append(all, partner...)

	reply := s.complete(ctx, PromptMessages(req.Message, all, ns.speaker, req.CoupleNames))

	s.remember(ctx, req, ns)

	res := &Result{
		AIResponse:      reply,
		MemoriesUsed:    len(all),
		TherapyMode:     ns.mode,
		SharedMemories:  len(shared),
		PartnerMemories: len(partner),
		PartnerAgentID:  ns.partner,
	}
	if ns.mode == ModeCouple {
		res.CoupleAgentID = ns.shared
	} else {
		res.UserAgentID = ns.shared
	}

	if human != nil {
		replyMsg := &Message{
			SessionID:        human.SessionID,
			UserID:           req.RequesterID,
			Content:          reply,
			SenderType:       SenderAI,
			MessageStatus:    StatusSent,
			ReplyToMessageID: &human.ID,
		}
		if err := s.repo.InsertMessage(ctx, replyMsg); err != nil {
			return nil, apperr.Internal("store reply", err)
		}
		res.MessageID = &replyMsg.ID
	}
	return res, nil
}

func (s *Service) remember(ctx context.Context, req Request, ns *namespaces) {
	if s.writer == nil {
		return
	}
	agentIDs := []string{ns.shared}
	if ns.partner != "" {
		agentIDs = append(agentIDs, ns.partner)
	}
	jobID, err := common.NewULID()
	if err != nil {
		logger.FromContext(ctx).Warn("memory write skipped", zap.Error(err))
		return
	}
	job := memory.WriteJob{
		ID:       jobID,
		AgentIDs: agentIDs,
		Role:     ai.RoleUser,
		Content:  SpeakerLabel(ns.speaker, req.CoupleNames) + ": " + req.Message,
		Metadata: map[string]any{
			"therapy_mode": ns.mode,
			"speaker":      ns.speaker,
		},
	}
	if err := s.writer.Dispatch(ctx, job); err != nil {
		logger.FromContext(ctx).Warn("memory write dispatch failed",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}
}

// ListMessages pages a session's history newest first. Past participants keep access.
func (s *Service) ListMessages(ctx context.Context, requesterID, sessionID uint64, limit int, beforeID uint64) ([]Message, error) {
	if _, err := s.participants.Participation(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID, limit, beforeID)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return msgs, nil
}
