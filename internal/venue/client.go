package venue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/booking"
	"github.com/example/court-scheduler/internal/credential"
)

// Client talks to the campus venue portal. Orders go through the same GET
// endpoint the portal's web frontend uses, authenticated by the captured
// session cookies.
type Client struct {
	hc      *http.Client
	baseURL string
	log     *zap.SugaredLogger
}

func New(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		hc: &http.Client{
			Timeout: timeout,
			// a redirect to the login page means the session is gone;
			// surface it instead of following
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: baseURL,
		log:     log,
	}
}

// checkdataItem mirrors the portal's expected order payload.
type checkdataItem struct {
	FieldNo     string `json:"FieldNo"`
	FieldTypeNo string `json:"FieldTypeNo"`
	FieldName   string `json:"FieldName"`
	BeginTime   string `json:"BeginTime"`
	EndTime     string `json:"EndTime"`
	Price       string `json:"Price"`
}

// orderResponse is the portal's envelope. type=1 with errorcode=0 is a
// placed order; type=3 with errorcode=0 means someone else got there first
// while allocation is still open.
type orderResponse struct {
	Type       int             `json:"type"`
	ErrorCode  int             `json:"errorcode"`
	Message    string          `json:"message"`
	ResultData json.RawMessage `json:"resultdata"`
}

// Reserve places one order for the slot. Every failure mode is folded into
// a booking.Result; it never panics or returns an error to the engine.
func (c *Client) Reserve(ctx context.Context, cred credential.Credential, slot booking.Slot) booking.Result {
	checkdata, err := json.Marshal([]checkdataItem{{
		FieldNo:     slot.FieldNo,
		FieldTypeNo: slot.FieldTypeNo,
		FieldName:   slot.FieldName,
		BeginTime:   slot.BeginTime,
		EndTime:     slot.EndTime,
		Price:       slot.Price,
	}})
	if err != nil {
		return booking.Result{Outcome: booking.OutcomeTransient, Detail: fmt.Sprintf("encode order: %v", err)}
	}

	params := map[string]string{
		"checkdata": string(checkdata),
		"dateadd":   strconv.Itoa(daysUntil(time.Now(), slot.Date)),
		"VenueNo":   slot.VenueNo,
	}
	status, body, err := c.do(ctx, cred, "/Field/OrderField", params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return booking.Result{Outcome: booking.OutcomeTransient, Detail: "attempt timed out"}
		}
		return booking.Result{Outcome: booking.OutcomeTransient, Detail: err.Error()}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || isLoginRedirect(status):
		return booking.Result{Outcome: booking.OutcomeAuthExpired, Detail: fmt.Sprintf("portal rejected session (status=%d)", status)}
	case status >= 500:
		return booking.Result{Outcome: booking.OutcomeTransient, Detail: fmt.Sprintf("portal error (status=%d)", status)}
	case status != http.StatusOK:
		return booking.Result{Outcome: booking.OutcomeTransient, Detail: fmt.Sprintf("unexpected status %d", status)}
	}

	var res orderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		// HTML instead of JSON usually means the login page
		return booking.Result{Outcome: booking.OutcomeAuthExpired, Detail: "portal returned non-JSON response"}
	}

	switch {
	case res.Type == 1 && res.ErrorCode == 0:
		return booking.Result{Outcome: booking.OutcomeSuccess, Detail: "order " + rawToString(res.ResultData)}
	case res.Type == 3 && res.ErrorCode == 0:
		// contended while the allocation window is still open
		return booking.Result{
			Outcome:         booking.OutcomeSlotUnavailable,
			Detail:          res.Message,
			StillAllocating: true,
		}
	default:
		return booking.Result{
			Outcome: booking.OutcomeSlotUnavailable,
			Detail:  fmt.Sprintf("%s (errorcode=%d)", res.Message, res.ErrorCode),
		}
	}
}

// CheckSession probes the portal's user-status endpoint; it returns nil only
// for an authenticated session. Used when importing credentials.
func (c *Client) CheckSession(ctx context.Context, cred credential.Credential) error {
	status, body, err := c.do(ctx, cred, "/User/CheckUserStatus", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("user status check failed (status=%d)", status)
	}
	var flag int
	if err := json.Unmarshal(body, &flag); err != nil {
		return fmt.Errorf("user status check: unexpected response %q", truncate(string(body), 80))
	}
	if flag != 1 {
		return fmt.Errorf("portal reports session not authenticated")
	}
	return nil
}

func (c *Client) do(ctx context.Context, cred credential.Credential, path string, query map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	// the portal expects browser-shaped requests
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Referer", c.baseURL+"/")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Cookie", cred.Cookies)

	if query != nil {
		q := req.URL.Query()
		for k, v := range query {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func isLoginRedirect(status int) bool {
	return status == http.StatusFound || status == http.StatusMovedPermanently || status == http.StatusSeeOther
}

// daysUntil is the portal's dateadd parameter: whole calendar days between
// today and the booking date, in local time.
func daysUntil(now, date time.Time) int {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := date.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.Local)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.Local)
	return int(b.Sub(a) / (24 * time.Hour))
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
