// Package bridge implements chat.Surface against a render bridge: a small
// HTTP endpoint living next to the live page (a browser extension or an
// automation driver) that can scroll the message list and hand out its
// markup.
//
//	POST /scroll/bottom
//	POST /scroll          {"top": 120}
//	GET  /viewport     -> {"scrollTop": 0, "clientHeight": 0, "scrollHeight": 0}
//	GET  /dom          -> message list markup
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatarchive/lib/restyutil"
	"chatarchive/lib/scrapers/chat"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/chat/bridge")

type Options struct {
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
}

type Surface struct {
	client *resty.Client
}

func New(baseUrl string, opts Options) *Surface {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseUrl, "/"))
	client.SetHeader("user-agent", "chatarchive")
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	restyutil.InstrumentClient(client, tracer)
	return &Surface{client: client}
}

func checkResponse(res *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf(
			"bridge %s %s: %s: %s",
			res.Request.Method,
			res.Request.URL,
			res.Status(),
			strings.TrimSpace(res.String()),
		)
	}
	return nil
}

func (s *Surface) ScrollToBottom(ctx context.Context) error {
	res, err := s.client.R().
		SetContext(ctx).
		Post("/scroll/bottom")
	return checkResponse(res, err)
}

type scrollRequest struct {
	Top float64 `json:"top"`
}

func (s *Surface) ScrollTo(ctx context.Context, top float64) error {
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(scrollRequest{Top: top}).
		Post("/scroll")
	return checkResponse(res, err)
}

func (s *Surface) Viewport(ctx context.Context) (chat.Viewport, error) {
	var viewport chat.Viewport
	res, err := s.client.R().
		SetContext(ctx).
		SetResult(&viewport).
		Get("/viewport")
	err = checkResponse(res, err)
	if err != nil {
		return chat.Viewport{}, err
	}
	return viewport, nil
}

func (s *Surface) Candidates(ctx context.Context) ([]chat.Node, error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/dom")
	if err != nil {
		return nil, err
	}
	body := res.RawBody()
	defer body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("bridge GET /dom: %s", res.Status())
	}
	return chat.ParseHTML(body)
}
