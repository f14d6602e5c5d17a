package sessions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/couples-chat/internal/apperr"
	"github.com/suPer8Hu/couples-chat/internal/models"
	"gorm.io/gorm"
)

type staticCouples struct {
	byUser map[uint64]*models.Couple
}

func (s staticCouples) GetMyActiveCouple(_ context.Context, userID uint64) (*models.Couple, error) {
	if c, ok := s.byUser[userID]; ok {
		return c, nil
	}
	return nil, apperr.ErrCoupleNotFound
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &Session{}, &Participant{}))
	return db
}

func seedUsers(t *testing.T, db *gorm.DB, n int) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		u := models.User{
			Email:     fmt.Sprintf("u%d@example.com", i),
			Username:  fmt.Sprintf("user%d", i),
			FirstName: "U",
			LastName:  fmt.Sprint(i),
			IsActive:  true,
		}
		require.NoError(t, db.Create(&u).Error)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestNewCode_Alphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		for _, r := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
		}
	}
	assert.Equal(t, "AB12CD34", NormalizeCode("  ab12cd34 "))
}

func TestCreateSession_SoloHasCreatorParticipant(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 1)
	svc := NewService(db, nil)

	s, err := svc.CreateSession(context.Background(), ids[0], ModeSolo)
	require.NoError(t, err)
	assert.Len(t, s.SessionCode, CodeLength)
	assert.Equal(t, 1, s.CurrentParticipants)
	assert.Equal(t, DefaultMaxParticipants, s.MaxParticipants)
	assert.Equal(t, StatusActive, s.Status)
	require.Len(t, s.Participants, 1)
	assert.Equal(t, RoleCreator, s.Participants[0].Role)

	got, err := svc.GetMySession(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestCreateSession_RejectsBadModeAndSecondSession(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 1)
	svc := NewService(db, nil)

	_, err := svc.CreateSession(context.Background(), ids[0], "group")
	assert.ErrorIs(t, err, apperr.ErrInvalidMode)

	_, err = svc.CreateSession(context.Background(), ids[0], "")
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), ids[0], ModeSolo)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInSession)
}

func TestCreateSession_CoupleModeAttachesCouple(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 2)
	c := &models.Couple{ID: 7, User1ID: ids[0], User2ID: ids[1], IsActive: true}
	svc := NewService(db, staticCouples{byUser: map[uint64]*models.Couple{ids[0]: c}})

	s, err := svc.CreateSession(context.Background(), ids[0], ModeCouple)
	require.NoError(t, err)
	require.NotNil(t, s.CoupleID)
	assert.Equal(t, uint64(7), *s.CoupleID)
	assert.Equal(t, ModeCouple, s.SessionMode)
}

func TestCreateSession_RetriesTakenCodes(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 2)

	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	i := 0
	svc := NewService(db, nil).WithCodeFunc(func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	})

	first, err := svc.CreateSession(context.Background(), ids[0], ModeSolo)
	require.NoError(t, err)
	second, err := svc.CreateSession(context.Background(), ids[1], ModeSolo)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.SessionCode)
	assert.Equal(t, "BBBBBBBB", second.SessionCode)
}

func TestJoinSession_CapacityAndConflicts(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 4)
	svc := NewService(db, nil)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, ids[0], ModeCouple)
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, ids[1], "nope0000")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	joined, err := svc.JoinSession(ctx, ids[1], strings.ToLower(s.SessionCode))
	require.NoError(t, err)
	assert.Equal(t, 2, joined.CurrentParticipants)
	require.Len(t, joined.Participants, 2)
	assert.Equal(t, RoleParticipant, joined.Participants[1].Role)

	_, err = svc.JoinSession(ctx, ids[2], s.SessionCode)
	assert.ErrorIs(t, err, apperr.ErrSessionFull)
	assert.Equal(t, apperr.CodeFailedPrecondition, apperr.CodeOf(err))

	_, err = svc.CreateSession(ctx, ids[3], ModeSolo)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, ids[3], s.SessionCode)
	assert.ErrorIs(t, err, apperr.ErrAlreadyInSession)

	a, err := svc.GetMySession(ctx, ids[0])
	require.NoError(t, err)
	b, err := svc.GetMySession(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, b.Participants, 2)
}

func TestJoinSession_ConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 9)
	svc := NewService(db, nil)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, ids[0], ModeCouple)
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, uid := range ids[1:] {
		wg.Add(1)
		go func(uid uint64) {
			defer wg.Done()
			if _, err := svc.JoinSession(ctx, uid, s.SessionCode); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	var fresh Session
	require.NoError(t, db.First(&fresh, s.ID).Error)
	assert.Equal(t, fresh.MaxParticipants, fresh.CurrentParticipants)

	var active int64
	require.NoError(t, db.Model(&Participant{}).Where("session_id = ? AND is_active = ?", s.ID, true).Count(&active).Error)
	assert.Equal(t, int64(2), active)
}

func TestLeaveSession_LastOneOutCompletes(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 2)
	svc := NewService(db, nil)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, ids[0], ModeCouple)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, ids[1], s.SessionCode)
	require.NoError(t, err)

	require.NoError(t, svc.LeaveSession(ctx, ids[1]))
	cur, err := svc.GetMySession(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, cur.CurrentParticipants)
	assert.Equal(t, StatusActive, cur.Status)

	// the seat is free again, and the leaver may come back
	_, err = svc.JoinSession(ctx, ids[1], s.SessionCode)
	require.NoError(t, err)
	require.NoError(t, svc.LeaveSession(ctx, ids[1]))

	require.NoError(t, svc.LeaveSession(ctx, ids[0]))
	var fresh Session
	require.NoError(t, db.First(&fresh, s.ID).Error)
	assert.Equal(t, StatusCompleted, fresh.Status)
	assert.Equal(t, 0, fresh.CurrentParticipants)

	assert.ErrorIs(t, svc.LeaveSession(ctx, ids[0]), apperr.ErrSessionNotFound)
}

func TestCompleteSession_CreatorOnly(t *testing.T) {
	db := openTestDB(t)
	ids := seedUsers(t, db, 3)
	svc := NewService(db, nil)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, ids[0], ModeCouple)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, ids[1], s.SessionCode)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.CompleteSession(ctx, ids[1]), apperr.ErrNotSessionCreator)
	require.NoError(t, svc.CompleteSession(ctx, ids[0]))

	_, err = svc.GetMySession(ctx, ids[1])
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = svc.JoinSession(ctx, ids[2], s.SessionCode)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// both members are free to start something new
	_, err = svc.CreateSession(ctx, ids[1], ModeSolo)
	assert.NoError(t, err)

	p, err := svc.Participation(ctx, s.ID, ids[0])
	require.NoError(t, err)
	assert.False(t, p.IsActive)
	_, err = svc.Participation(ctx, s.ID, ids[2])
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)
}
