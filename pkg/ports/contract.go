package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/pitch/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a VisitStore
// implementation adheres to the defined interface contract.
func RunStoreContract(t *testing.T, store VisitStore) {
	ctx := context.Background()
	suffix := time.Now().Format("20060102150405.000000000")
	identity := func(name string) string { return fmt.Sprintf("contract-%s-%s", name, suffix) }

	t.Run("Find Non-Existent User", func(t *testing.T) {
		_, err := store.FindUser(ctx, identity("missing"))
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("Create and Find User", func(t *testing.T) {
		created, err := store.CreateUser(ctx, identity("user"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.CreatedAt.IsZero())

		found, err := store.FindUser(ctx, identity("user"))
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, identity("user"), found.Identity)
	})

	t.Run("Latest Visit Ordering", func(t *testing.T) {
		user, err := store.CreateUser(ctx, identity("ordering"))
		require.NoError(t, err)

		_, err = store.LatestVisit(ctx, user.ID)
		assert.ErrorIs(t, err, domain.ErrVisitNotFound)

		// Same timestamp on purpose: Seq must break the tie.
		at := time.Now().UTC().Truncate(time.Second)
		first := &domain.Visit{UserID: user.ID, CurrentNode: "a", CreatedAt: at}
		second := &domain.Visit{UserID: user.ID, CurrentNode: "b", CreatedAt: at}
		require.NoError(t, store.CreateVisit(ctx, first))
		require.NoError(t, store.CreateVisit(ctx, second))
		assert.NotEmpty(t, first.ID)
		assert.Greater(t, second.Seq, first.Seq)

		latest, err := store.LatestVisit(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, "b", latest.CurrentNode)
	})

	t.Run("Update Visit", func(t *testing.T) {
		user, err := store.CreateUser(ctx, identity("update"))
		require.NoError(t, err)

		visit := &domain.Visit{UserID: user.ID, CurrentNode: "room_enter_1"}
		require.NoError(t, store.CreateVisit(ctx, visit))

		msg := &domain.Message{UserID: user.ID, VisitID: visit.ID, Direction: domain.DirectionOutbound, Body: "You see a door."}
		require.NoError(t, store.AppendMessage(ctx, msg))
		assert.NotEmpty(t, msg.ID)

		wake := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		visit.NextNode = "room_choice"
		visit.MessageIDs = append(visit.MessageIDs, msg.ID)
		visit.State = domain.AppState{"score": "3"}
		visit.SleepUntil = &wake
		visit.TransitionExecuted = true
		require.NoError(t, store.UpdateVisit(ctx, visit))

		latest, err := store.LatestVisit(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "room_choice", latest.NextNode)
		assert.Equal(t, []string{msg.ID}, latest.MessageIDs)
		assert.Equal(t, "3", latest.State["score"])
		require.NotNil(t, latest.SleepUntil)
		assert.True(t, wake.Equal(*latest.SleepUntil))
		assert.True(t, latest.TransitionExecuted)

		err = store.UpdateVisit(ctx, &domain.Visit{ID: "missing-" + suffix, UserID: user.ID})
		assert.ErrorIs(t, err, domain.ErrVisitNotFound)
	})

	t.Run("Due Visits", func(t *testing.T) {
		user, err := store.CreateUser(ctx, identity("due"))
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Second)
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)

		due := &domain.Visit{UserID: user.ID, CurrentNode: "wait_1", NextNode: "room_choice", SleepUntil: &past}
		require.NoError(t, store.CreateVisit(ctx, due))

		executed := &domain.Visit{UserID: user.ID, CurrentNode: "wait_1", SleepUntil: &past, TransitionExecuted: true}
		require.NoError(t, store.CreateVisit(ctx, executed))

		pending := &domain.Visit{UserID: user.ID, CurrentNode: "wait_1", SleepUntil: &future}
		require.NoError(t, store.CreateVisit(ctx, pending))

		visits, err := store.DueVisits(ctx, now, 0)
		require.NoError(t, err)

		var ids []string
		for _, v := range visits {
			if v.Identity == identity("due") {
				ids = append(ids, v.VisitID)
			}
		}
		assert.Equal(t, []string{due.ID}, ids)
	})

	t.Run("History and Delete", func(t *testing.T) {
		user, err := store.CreateUser(ctx, identity("history"))
		require.NoError(t, err)

		visit := &domain.Visit{UserID: user.ID, CurrentNode: "room_choice"}
		require.NoError(t, store.CreateVisit(ctx, visit))
		in := &domain.Message{UserID: user.ID, VisitID: visit.ID, Direction: domain.DirectionInbound, Body: "open"}
		out := &domain.Message{UserID: user.ID, VisitID: visit.ID, Direction: domain.DirectionOutbound, Body: "It creaks open."}
		require.NoError(t, store.AppendMessage(ctx, in))
		require.NoError(t, store.AppendMessage(ctx, out))

		history, err := store.History(ctx, identity("history"))
		require.NoError(t, err)
		assert.Equal(t, user.ID, history.User.ID)
		require.Len(t, history.Visits, 1)
		require.Len(t, history.Messages, 2)
		assert.Equal(t, "open", history.Messages[0].Body)
		assert.Equal(t, "It creaks open.", history.Messages[1].Body)

		users, err := store.ListUsers(ctx)
		require.NoError(t, err)
		var identities []string
		for _, u := range users {
			identities = append(identities, u.Identity)
		}
		assert.Contains(t, identities, identity("history"))

		require.NoError(t, store.DeleteUser(ctx, identity("history")))

		_, err = store.FindUser(ctx, identity("history"))
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		_, err = store.History(ctx, identity("history"))
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		_, err = store.LatestVisit(ctx, user.ID)
		assert.ErrorIs(t, err, domain.ErrVisitNotFound)

		err = store.DeleteUser(ctx, identity("history"))
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})
}
