package rest

import (
	"net/http"
	"strconv"
)

// RangeStatus classifies a page against the total row count.
type RangeStatus int

const (
	RangeOK RangeStatus = iota
	RangePartial
	RangeNotSatisfiable
)

// HTTPStatus is the response status PostgREST-compatible transports use.
func (s RangeStatus) HTTPStatus() int {
	switch s {
	case RangePartial:
		return http.StatusPartialContent
	case RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	}
	return http.StatusOK
}

func (s RangeStatus) String() string {
	switch s {
	case RangePartial:
		return "partial"
	case RangeNotSatisfiable:
		return "not_satisfiable"
	}
	return "ok"
}

// RangeInfo is the range metadata of a read.
type RangeInfo struct {
	Offset   int64
	Returned int64
	// Total is nil when no count was requested.
	Total *int64
}

// Status reports whether the page covers the rest of the result set.
func (r RangeInfo) Status() RangeStatus {
	if r.Total == nil {
		return RangeOK
	}
	total := *r.Total
	switch {
	case r.Offset > total:
		return RangeNotSatisfiable
	case r.Offset+r.Returned >= total:
		return RangeOK
	}
	return RangePartial
}

// ContentRange renders the Content-Range header value: "0-9/100", "*/100"
// for an empty page, "0-9/*" when the total is unknown.
func (r RangeInfo) ContentRange() string {
	total := "*"
	if r.Total != nil {
		total = strconv.FormatInt(*r.Total, 10)
	}
	if r.Returned == 0 {
		return "*/" + total
	}
	return strconv.FormatInt(r.Offset, 10) + "-" + strconv.FormatInt(r.Offset+r.Returned-1, 10) + "/" + total
}
