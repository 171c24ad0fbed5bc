package api

import (
	"context"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/events"
)

func dialWS(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	wsURL := strings.Replace(url, "http://", "ws://", 1)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readWSEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) events.Event {
	t.Helper()
	var event events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	return event
}
