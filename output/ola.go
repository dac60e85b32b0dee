package output

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atrep123/dmx-core/errors"
)

// OLASender posts frames to the OLA HTTP bridge as
// POST <base>/set_dmx with body u=<universe>&d=<v0,...,v511>.
type OLASender struct {
	baseURL string
	client  *http.Client
}

// NewOLASender builds the HTTP back-end. timeoutMS bounds every POST
// (default 500 ms).
func NewOLASender(baseURL string, timeoutMS int) *OLASender {
	if timeoutMS <= 0 {
		timeoutMS = 500
	}
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/set_dmx") {
		base += "/set_dmx"
	}
	return &OLASender{
		baseURL: base,
		client: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				MaxConnsPerHost:     8,
			},
		},
	}
}

// SendFrame implements Sender. 4xx/5xx responses and timeouts are returned as
// TransportError so the scheduler can account them by code; they never block
// the write path beyond the client timeout.
func (o *OLASender) SendFrame(ctx context.Context, universe int, frame []byte) error {
	var d strings.Builder
	d.Grow(4 * len(frame))
	for i, v := range frame {
		if i > 0 {
			d.WriteByte(',')
		}
		d.WriteString(strconv.Itoa(int(v)))
	}
	form := url.Values{
		"u": {strconv.Itoa(universe)},
		"d": {d.String()},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &TransportError{Code: "error", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := o.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &TransportError{Code: "timeout", Err: err}
		}
		return &TransportError{Code: "error", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &TransportError{Code: strconv.Itoa(resp.StatusCode), Err: errors.Newf("ola returned %s", resp.Status)}
	}
	return nil
}

// Close implements Sender.
func (o *OLASender) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	type timeouter interface{ Timeout() bool }
	var te timeouter
	return errors.As(err, &te) && te.Timeout()
}
