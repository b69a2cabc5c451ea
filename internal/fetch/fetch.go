package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"danawa-tracker/internal/telemetry"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	UserAgent = "mozilla/5.0 (windows nt 10.0; win64; x64) applewebkit/537.36 (khtml, like gecko) chrome/78.0.3904.70 safari/537.36"
	Referer   = "https://danawa.com"

	DefaultTimeout = 20 * time.Second
	MinTimeout     = time.Second
	MaxTimeout     = 30 * time.Second
)

type Kind string

const (
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	KindTLS     Kind = "tls"
	KindStatus  Kind = "status"
)

// Error is returned for every failed fetch. StatusCode is only set for KindStatus.
type Error struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Config struct {
	Timeout time.Duration
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return min(max(c.Timeout, MinTimeout), MaxTimeout)
}

type Fetcher struct {
	http *resty.Client
	tel  telemetry.API
}

func NewFetcher(config Config, tel telemetry.API) Fetcher {
	client := resty.New()
	client.SetHeader("User-Agent", UserAgent)
	client.SetHeader("Referer", Referer)
	// the site still negotiates with legacy renegotiation, this only allows it once per connection
	client.SetTLSClientConfig(&tls.Config{
		Renegotiation: tls.RenegotiateOnceAsClient,
	})
	client.SetTimeout(config.timeout())
	client.SetRetryCount(0)

	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("fetch", tel), "danawa-tracker/fetch")

	return Fetcher{
		http: client,
		tel:  tel,
	}
}

// Fetch performs a single GET and returns the raw body.
func (f Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	res, err := f.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, &Error{Kind: classify(err), URL: url, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &Error{
			Kind:       KindStatus,
			URL:        url,
			StatusCode: res.StatusCode(),
			Err:        fmt.Errorf("%s", res.Status()),
		}
	}
	return res.Body(), nil
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &recordErr),
		errors.As(err, &alertErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return KindTLS
	}
	return KindNetwork
}
