package crawler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatarchive/lib/scrapers/chat"

	"github.com/stretchr/testify/require"
)

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func TestHandler(t *testing.T) {
	svc, _, cleanup := setupService(t, 20*time.Millisecond)
	defer cleanup()

	var requested StartRequest
	server := httptest.NewServer(svc.Handler(func(ctx context.Context, req StartRequest) (chat.Surface, error) {
		requested = req
		return channelSurface(t, 50), nil
	}))
	defer server.Close()

	{
		res, body := post(t, server.URL+"/crawl/start", `{"url": "https://discord.com/app"}`)
		require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
		require.Contains(t, body["error"], "not a crawlable")
	}
	{
		res, _ := post(t, server.URL+"/crawl/start", `not json`)
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	}
	{
		res, body := post(
			t, server.URL+"/crawl/start",
			`{"url": "https://discord.com/channels/s1/c1", "channel_name": "general", "bridge": "http://localhost:9999"}`,
		)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, true, body["is_crawling"])
		require.Equal(t, "c1", body["current_channel_id"])
		require.Equal(t, "http://localhost:9999", requested.Bridge)
		require.Equal(t, "general", requested.ChannelName)
	}
	{
		res, _ := post(t, server.URL+"/crawl/start", `{"url": "https://discord.com/channels/s1/c1"}`)
		require.Equal(t, http.StatusConflict, res.StatusCode)
	}
	{
		res, err := http.Get(server.URL + "/crawl/status")
		require.NoError(t, err)
		var status Status
		require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
		res.Body.Close()
		require.True(t, status.IsCrawling)
		require.Equal(t, "general", status.CurrentChannelName)
	}
	{
		res, body := post(t, server.URL+"/crawl/stop", ``)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, false, body["is_crawling"])
	}
	{
		res, body := post(t, server.URL+"/crawl/abandon", ``)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, false, body["is_crawling"])
	}
	{
		res, err := http.Get(server.URL + "/stats")
		require.NoError(t, err)
		var stats Stats
		require.NoError(t, json.NewDecoder(res.Body).Decode(&stats))
		res.Body.Close()
		require.Equal(t, 1, stats.Channels)
		require.Greater(t, stats.Messages, 0)
	}
	{
		res, err := http.Get(server.URL + "/crawl/stop")
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	svc, _, cleanup := setupService(t, time.Millisecond)
	defer cleanup()

	server := httptest.NewServer(svc.Handler(func(ctx context.Context, req StartRequest) (chat.Surface, error) {
		return channelSurface(t, 1), nil
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/crawl/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "text/event-stream", res.Header.Get("content-type"))

	scanner := bufio.NewScanner(res.Body)
	next := func() Status {
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var status Status
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &status))
			return status
		}
		t.Fatal("event stream ended", scanner.Err())
		return Status{}
	}

	// the current status is sent right away
	require.False(t, next().IsCrawling)

	startRes, _ := post(t, server.URL+"/crawl/start", `{"url": "https://discord.com/channels/s1/c1"}`)
	require.Equal(t, http.StatusOK, startRes.StatusCode)

	sawCrawling := false
	for {
		status := next()
		if status.IsCrawling {
			sawCrawling = true
			continue
		}
		break
	}
	require.True(t, sawCrawling)
}
