package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/config"
	"github.com/yashrajoria/webhook-service/services"
	"github.com/yashrajoria/webhook-service/webhook"
)

const eventBody = `{"id":"evt_cli","type":"payment_intent.succeeded","data":{"object":{"id":"pi_cli","object":"payment_intent","amount":500,"currency":"usd"}}}`

func TestSignEvent_ProducesVerifiableHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(eventBody), 0o600))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"sign-event", "--file", path, "--secret", "whsec_cli"})
	require.NoError(t, cmd.Execute())

	header := strings.TrimSpace(out.String())
	event, err := webhook.NewVerifier("whsec_cli", 0).Verify([]byte(eventBody), header)
	require.NoError(t, err)
	assert.Equal(t, webhook.KindPaymentSucceeded, event.Kind())
}

func TestSignEvent_RequiresSecret(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	path := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(path, []byte(eventBody), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"sign-event", "--file", path})
	assert.ErrorContains(t, cmd.Execute(), "no signing secret")
}

func noAWS() (sdkaws.Config, error) {
	return sdkaws.Config{}, assert.AnError
}

func TestBuildNotifier(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := &config.Config{
		Notifiers: []string{"log", "redis"},
		RedisAddr: mr.Addr(),
	}
	n, closers, err := buildNotifier(context.Background(), cfg, noAWS, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, closers, 1)
	t.Cleanup(func() { closers[0]() })

	multi, ok := n.(services.MultiNotifier)
	require.True(t, ok, "got %T", n)
	assert.Len(t, multi, 2)

	require.NoError(t, n.Invalidate(context.Background(), services.ScopeAdminOrders))
}

func TestBuildNotifier_SingleAndDefault(t *testing.T) {
	n, _, err := buildNotifier(context.Background(), &config.Config{Notifiers: []string{"log"}}, noAWS, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &services.LogNotifier{}, n)

	n, _, err = buildNotifier(context.Background(), &config.Config{}, noAWS, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &services.LogNotifier{}, n)
}

func TestBuildNotifier_SNSNeedsAWS(t *testing.T) {
	cfg := &config.Config{Notifiers: []string{"sns"}, CacheInvalidationTopicARN: "arn:aws:sns:us-east-1:000000000000:cache"}
	_, _, err := buildNotifier(context.Background(), cfg, noAWS, zap.NewNop())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestMetricsClient_DisabledByDefault(t *testing.T) {
	assert.Nil(t, metricsClient(&config.Config{}, noAWS, zap.NewNop()))
	assert.Nil(t, logSink(context.Background(), &config.Config{}, noAWS))
}
