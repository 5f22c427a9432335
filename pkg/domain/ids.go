package domain

import (
	"strconv"

	dErrors "sos/pkg/domain-errors"
)

// FundID is the ordinal position of a fund in the manager's list.
type FundID uint64

// RequestID is the ordinal of a Governor request. Ids are never reused.
type RequestID uint64

func (id FundID) String() string    { return strconv.FormatUint(uint64(id), 10) }
func (id RequestID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseFundID parses a base 10 fund id from a path parameter.
func ParseFundID(s string) (FundID, error) {
	v, err := parseOrdinal(s, "fund id")
	return FundID(v), err
}

// ParseRequestID parses a base 10 request id from a path parameter.
func ParseRequestID(s string) (RequestID, error) {
	v, err := parseOrdinal(s, "request id")
	return RequestID(v), err
}

func parseOrdinal(s, what string) (uint64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	return v, nil
}
