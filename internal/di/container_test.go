package di

import (
	"context"
	"testing"

	"github.com/Threadigit/BillDrop/internal/core"
	"github.com/Threadigit/BillDrop/internal/factory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIContainerRunsDemoScan(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{
		Provider: "none",
		Mailbox:  "demo",
		UserID:   "demo-user",
	})
	require.NoError(t, err)

	err = container.Invoke(func(svc *core.ScanService, st factory.Store, client core.LLMClient) {
		assert.Nil(t, client)

		var events []core.Event
		summary, err := svc.RunScan(context.Background(), core.ScanRequest{UserID: "demo-user"}, func(ev core.Event) {
			events = append(events, ev)
		})
		require.NoError(t, err)
		assert.Equal(t, core.StateComplete, summary.State)
		assert.Equal(t, 7, summary.TotalFetched)
		assert.Greater(t, summary.TotalAccepted, 0)

		require.NotEmpty(t, events)
		assert.Equal(t, core.EventComplete, events[len(events)-1].Type)

		subs, err := st.ListByUser(context.Background(), "demo-user")
		require.NoError(t, err)
		assert.Len(t, subs, summary.TotalAccepted)

		rec, err := st.LatestScan(context.Background(), "demo-user")
		require.NoError(t, err)
		assert.Equal(t, core.ScanStatusCompleted, rec.Status)
	})
	require.NoError(t, err)
}

func TestCLIContainerRejectsUnknownMailbox(t *testing.T) {
	container, err := BuildCLIContainer(&CLIFlags{Provider: "none", Mailbox: "pop3"})
	require.NoError(t, err)

	err = container.Invoke(func(*core.ScanService) {})
	assert.Error(t, err)
}

func TestCreateConfigFromFlags(t *testing.T) {
	cfg := createConfigFromFlags(&CLIFlags{
		Provider:        "openai",
		OpenAIAPIKey:    "sk-test",
		OpenAIModelName: "gpt-4o-mini",
		MaxTokens:       900,
		Mailbox:         "maildir",
		MaildirPath:     "/tmp/mail",
		DisableFallback: true,
	})

	assert.Equal(t, "openai", cfg.GetLLM().Provider)
	assert.Equal(t, "sk-test", cfg.GetOpenAI().APIKey)
	assert.Equal(t, 900, cfg.GetOpenAI().MaxTokens)
	assert.Equal(t, "/tmp/mail", cfg.GetMailbox().MaildirPath)
	assert.Equal(t, "memory", cfg.GetStore().Type)
	assert.False(t, cfg.GetBool("cache.enabled"))

	ext, err := cfg.GetExtraction()
	require.NoError(t, err)
	assert.False(t, ext.SingleFallback)
}
