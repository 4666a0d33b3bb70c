package dispatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"aisatoshi/internal/types"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text   string
		want   types.Intent
		wantOK bool
	}{
		{"/start", types.NewIntent(types.ActionHelp, nil), true},
		{"/help", types.NewIntent(types.ActionHelp, nil), true},
		{"/status@AIsatoshiBot", types.NewIntent(types.ActionStatus, nil), true},
		{"/tasks", types.NewIntent(types.ActionListTasks, nil), true},
		{"/balance", types.NewIntent(types.ActionBalance, nil), true},
		{"/clear", types.NewIntent(types.ActionClearHistory, nil), true},
		{"/price", types.NewIntent(types.ActionPrice, nil), true},
		{"/PRICE btc now", types.NewIntent(types.ActionPrice, map[string]interface{}{"coin": "btc"}), true},
		{"/browse https://clawn.ch", types.NewIntent(types.ActionBrowse, map[string]interface{}{"url": "https://clawn.ch"}), true},
		{"/browse https://clawn.ch 这是 什么", types.NewIntent(types.ActionBrowse, map[string]interface{}{
			"url": "https://clawn.ch", "question": "这是 什么",
		}), true},
		{"/stop_task ETH 监控", types.NewIntent(types.ActionStopTask, map[string]interface{}{"name": "ETH 监控"}), true},
		{"/delete_task all", types.NewIntent(types.ActionDeleteTask, map[string]interface{}{"name": "all"}), true},
		{"/stop_task", types.NewIntent(types.ActionStopTask, nil), true},
		{"/stop_task #3f2a1b", types.NewIntent(types.ActionStopTask, map[string]interface{}{"id": "3f2a1b"}), true},
		{"/delete_task [3f2a1b9c]", types.NewIntent(types.ActionDeleteTask, map[string]interface{}{"id": "3f2a1b9c"}), true},
		{"/remember 我最关注 SOL", types.NewIntent(types.ActionRemember, map[string]interface{}{"content": "我最关注 SOL"}), true},
		{"/memories", types.NewIntent(types.ActionListMemories, nil), true},
		{"/memories sol", types.NewIntent(types.ActionListMemories, map[string]interface{}{"keyword": "sol"}), true},
		{"/forget #3", types.NewIntent(types.ActionForget, map[string]interface{}{"id": "3"}), true},
		{"/forget ALL", types.NewIntent(types.ActionForget, map[string]interface{}{"all": true}), true},
		{"/exec rm -rf /", types.Intent{}, false},
		{"/", types.Intent{}, false},
		{"hello /price", types.Intent{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseCommand(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ParseCommand(%q) mismatch (-want +got):\n%s", tt.text, diff)
			}
		})
	}
}
