package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aisatoshi/internal/types"
)

func TestRemember_DefaultsAndClamping(t *testing.T) {
	m, _ := newTestMemory(t, DefaultConfig())
	ctx := context.Background()

	f, err := m.Remember(ctx, "c", types.FactGeneral, "  用户叫   小明 ", 0)
	require.NoError(t, err)
	assert.NotZero(t, f.ID)
	assert.Equal(t, "用户叫 小明", f.Content)
	assert.Equal(t, types.DefaultImportance, f.Importance)
	assert.Equal(t, "c", f.ConversationID)

	pref, err := m.Remember(ctx, "c", types.FactPreference, "喜欢简短回复", 0)
	require.NoError(t, err)
	assert.Equal(t, types.ImportantFact, pref.Importance)

	high, err := m.Remember(ctx, "c", types.FactEvent, "上线了新版本", 99)
	require.NoError(t, err)
	assert.Equal(t, types.MaxImportance, high.Importance)

	_, err = m.Remember(ctx, "c", types.FactGeneral, "   ", 3)
	assert.ErrorIs(t, err, types.ErrValidation)

	all, err := m.Facts(ctx, "c", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, types.FactEvent, all[0].Kind)
	assert.Equal(t, types.FactPreference, all[1].Kind)
}

func TestRecall_MatchesWording(t *testing.T) {
	m, _ := newTestMemory(t, DefaultConfig())
	ctx := context.Background()

	for _, content := range []string{"用户最关注的币是 SOL", "用户的钱包在 Base 链上", "用户住在上海"} {
		_, err := m.Remember(ctx, "c", types.FactGeneral, content, 3)
		require.NoError(t, err)
	}
	_, err := m.Remember(ctx, "other", types.FactGeneral, "SOL 是另一个人的最爱", 5)
	require.NoError(t, err)

	got, err := m.Recall(ctx, "c", "SOL 最近涨了吗？我关注的币", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "用户最关注的币是 SOL", got[0].Content)
	for _, f := range got {
		assert.Equal(t, "c", f.ConversationID)
	}

	none, err := m.Recall(ctx, "c", "?!", 5)
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := m.Recall(ctx, "c", "用户", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBuild_CombinesTurnsAndFacts(t *testing.T) {
	m, _ := newTestMemory(t, Config{HistoryTurns: 10, RecallFacts: 3, ImportantCap: 5})
	ctx := context.Background()

	sol, err := m.Remember(ctx, "c", types.FactPreference, "用户最关注的币是 SOL", 0)
	require.NoError(t, err)
	name, err := m.Remember(ctx, "c", types.FactGeneral, "用户叫小明", 5)
	require.NoError(t, err)
	_, err = m.Remember(ctx, "c", types.FactGeneral, "用户养了一只猫", 2)
	require.NoError(t, err)

	_, _, err = m.Ingest(ctx, "c", 1, "早", at)
	require.NoError(t, err)
	require.NoError(t, m.RecordReply(ctx, "c", "早上好", at))
	current, _, err := m.Ingest(ctx, "c", 2, "SOL 关注的币价格", at)
	require.NoError(t, err)

	cc, err := m.Build(ctx, "c", current.Sequence, current.Text)
	require.NoError(t, err)
	assert.Len(t, cc.Turns, 2)
	require.Len(t, cc.Related, 1)
	assert.Equal(t, sol.ID, cc.Related[0].ID)
	// important facts already shown as related are not repeated
	require.Len(t, cc.Important, 1)
	assert.Equal(t, name.ID, cc.Important[0].ID)
}

func TestForget(t *testing.T) {
	m, _ := newTestMemory(t, DefaultConfig())
	ctx := context.Background()

	a, err := m.Remember(ctx, "c", types.FactGeneral, "a fact", 3)
	require.NoError(t, err)
	_, err = m.Remember(ctx, "c", types.FactGeneral, "b fact", 3)
	require.NoError(t, err)

	ok, err := m.Forget(ctx, "elsewhere", a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = m.Forget(ctx, "c", a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := m.ForgetAll(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFacts_WithoutEntityStore(t *testing.T) {
	m := New(failingStore{}, DefaultConfig())
	ctx := context.Background()

	_, err := m.Remember(ctx, "c", types.FactGeneral, "x", 3)
	assert.ErrorIs(t, err, types.ErrValidation)
	facts, err := m.Recall(ctx, "c", "x y", 3)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestBigrams(t *testing.T) {
	got := bigrams("SOL 币价!")
	assert.Len(t, got, 3)
	for _, g := range []string{"so", "ol", "币价"} {
		assert.Contains(t, got, g)
	}
}
