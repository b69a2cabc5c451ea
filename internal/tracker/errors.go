package tracker

import (
	"danawa-tracker/internal/extract"
	"danawa-tracker/internal/fetch"
	"errors"
)

type ErrorKind string

const (
	ErrorFetchNetwork     ErrorKind = "fetch_network"
	ErrorFetchTimeout     ErrorKind = "fetch_timeout"
	ErrorFetchTLS         ErrorKind = "fetch_tls"
	ErrorFetchStatus      ErrorKind = "fetch_status"
	ErrorPriceNotFound    ErrorKind = "price_not_found"
	ErrorPriceUnparseable ErrorKind = "price_unparseable"
	ErrorMalformedMarkup  ErrorKind = "malformed_markup"
	ErrorUnknown          ErrorKind = "unknown"
)

// Classify maps an error returned by a cycle to the kind stored in the tracker's state.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var fetchErr *fetch.Error
	if errors.As(err, &fetchErr) {
		switch fetchErr.Kind {
		case fetch.KindTimeout:
			return ErrorFetchTimeout
		case fetch.KindTLS:
			return ErrorFetchTLS
		case fetch.KindStatus:
			return ErrorFetchStatus
		default:
			return ErrorFetchNetwork
		}
	}

	switch {
	case errors.Is(err, extract.ErrPriceNotFound):
		return ErrorPriceNotFound
	case errors.Is(err, extract.ErrPriceUnparseable):
		return ErrorPriceUnparseable
	case errors.Is(err, extract.ErrMalformedMarkup):
		return ErrorMalformedMarkup
	}
	return ErrorUnknown
}
