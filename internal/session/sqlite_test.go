package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localforge/myllm/internal/apierr"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetWithMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "tiny-llama")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := s.GetWithMessages(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "tiny-llama", sess.ModelName)
	require.Empty(t, sess.Messages)
}

func TestGetWithMessagesUnknownIDIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetWithMessages(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestAddMessageOrdersByCreatedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "tiny-llama")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, id, "system", "be terse", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, id, "user", "hi", nil)
	require.NoError(t, err)
	tokens := 7
	_, err = s.AddMessage(ctx, id, "assistant", "hello", &tokens)
	require.NoError(t, err)

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "user", msgs[1].Role)
	require.Equal(t, "assistant", msgs[2].Role)
	require.NotNil(t, msgs[2].Tokens)
	require.Equal(t, 7, *msgs[2].Tokens)

	sess, err := s.GetWithMessages(ctx, id)
	require.NoError(t, err)
	require.False(t, sess.UpdatedAt.Before(msgs[2].CreatedAt))
}

func TestAddMessageUnknownSessionIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AddMessage(context.Background(), "ghost", "user", "hi", nil)
	require.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestAddMessageRejectsUnrecognizedRole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "tiny-llama")
	require.NoError(t, err)

	_, err = s.AddMessage(ctx, id, "narrator", "hi", nil)
	require.Error(t, err)
}

func TestDeleteOlderThanCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "tiny-llama")
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, id, "user", "hi", nil)
	require.NoError(t, err)

	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, old, id)
	require.NoError(t, err)

	n, err := s.DeleteOlderThan(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = s.GetWithMessages(ctx, id)
	require.Error(t, err)

	msgs, err := s.ListMessages(ctx, id)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestDeleteOlderThanRejectsNegativeDays(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DeleteOlderThan(context.Background(), -1)
	require.Error(t, err)
}
