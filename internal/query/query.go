// Package query parses and normalizes the external query-string surface
// into the Filters/Pagination/Sort types the repositories consume:
// page-size clamping, default sort, and partner-id normalization all
// happen here so handlers stay thin.
package query

import (
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orderingest/core/internal/apperr"
	"github.com/orderingest/core/internal/errorrepo"
	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
)

// ParseOrderQuery parses the /api/orders query parameters into the order
// repository's filter/pagination/sort triple.
func ParseOrderQuery(values url.Values) (orderrepo.Filters, order.Pagination, orderrepo.Sort, []apperr.FieldError) {
	var errs []apperr.FieldError
	f := orderrepo.Filters{}

	if v := values.Get("partnerId"); v != "" {
		id, ok := partner.ParseID(v)
		if !ok {
			errs = append(errs, apperr.FieldError{Field: "partnerId", Code: apperr.CodeUnknownPartner, Message: "unknown partner id", ReceivedValue: v})
		} else {
			f.PartnerID = &id
		}
	}
	if v := values.Get("customerId"); v != "" {
		f.CustomerID = v
	}
	if v := values.Get("productId"); v != "" {
		f.ProductID = v
	}
	if v := values.Get("fromDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "fromDate", Code: apperr.CodeInvalidTimestamp, Message: "fromDate is not a parseable ISO-8601 instant", ReceivedValue: v})
		} else {
			f.FromDate = &t
		}
	}
	if v := values.Get("toDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "toDate", Code: apperr.CodeInvalidTimestamp, Message: "toDate is not a parseable ISO-8601 instant", ReceivedValue: v})
		} else {
			f.ToDate = &t
		}
	}
	if v := values.Get("minAmount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "minAmount", Code: apperr.CodeNotANumber, Message: "minAmount must be a number", ReceivedValue: v})
		} else {
			f.MinAmount = &d
		}
	}
	if v := values.Get("maxAmount"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "maxAmount", Code: apperr.CodeNotANumber, Message: "maxAmount must be a number", ReceivedValue: v})
		} else {
			f.MaxAmount = &d
		}
	}

	p := parsePagination(values)

	sort := orderrepo.DefaultSort()
	if v := values.Get("sortBy"); v != "" {
		switch orderrepo.SortField(v) {
		case orderrepo.SortProcessedAt, orderrepo.SortTransactionTime, orderrepo.SortGrossAmount, orderrepo.SortSequenceNumber:
			sort.Field = orderrepo.SortField(v)
		default:
			errs = append(errs, apperr.FieldError{Field: "sortBy", Code: apperr.CodeInvalidValue, Message: "unsupported sortBy value", ReceivedValue: v})
		}
	}
	if v := values.Get("sortOrder"); v != "" {
		switch orderrepo.SortOrder(v) {
		case orderrepo.Asc, orderrepo.Desc:
			sort.Order = orderrepo.SortOrder(v)
		default:
			errs = append(errs, apperr.FieldError{Field: "sortOrder", Code: apperr.CodeInvalidValue, Message: "unsupported sortOrder value", ReceivedValue: v})
		}
	}

	return f, p, sort, errs
}

// ParseErrorQuery parses the error-feed query parameters into the error
// repository's filter/pagination/sort triple.
func ParseErrorQuery(values url.Values) (errorrepo.Filters, order.Pagination, errorrepo.SortOrder, []apperr.FieldError) {
	var errs []apperr.FieldError
	f := errorrepo.Filters{}

	if v := values.Get("partnerId"); v != "" {
		id, ok := partner.ParseID(v)
		if !ok {
			errs = append(errs, apperr.FieldError{Field: "partnerId", Code: apperr.CodeUnknownPartner, Message: "unknown partner id", ReceivedValue: v})
		} else {
			f.PartnerID = &id
		}
	}
	if v := values.Get("errorCode"); v != "" {
		code := apperr.Code(v)
		f.ErrorCode = &code
	}
	if v := values.Get("fromDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "fromDate", Code: apperr.CodeInvalidTimestamp, Message: "fromDate is not a parseable ISO-8601 instant", ReceivedValue: v})
		} else {
			f.FromDate = &t
		}
	}
	if v := values.Get("toDate"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "toDate", Code: apperr.CodeInvalidTimestamp, Message: "toDate is not a parseable ISO-8601 instant", ReceivedValue: v})
		} else {
			f.ToDate = &t
		}
	}

	p := parsePagination(values)

	sortOrder := errorrepo.DefaultSortOrder
	if v := values.Get("sortOrder"); v != "" {
		switch errorrepo.SortOrder(v) {
		case errorrepo.Asc, errorrepo.Desc:
			sortOrder = errorrepo.SortOrder(v)
		default:
			errs = append(errs, apperr.FieldError{Field: "sortOrder", Code: apperr.CodeInvalidValue, Message: "unsupported sortOrder value", ReceivedValue: v})
		}
	}

	return f, p, sortOrder, errs
}

// parsePagination enforces the hard page-size ceiling (order.MaxPageSize)
// and falls back to the {page:1, pageSize:20} defaults on malformed or
// absent values, rather than rejecting the request.
func parsePagination(values url.Values) order.Pagination {
	p := order.DefaultPage()
	if v := values.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.Page = n
		}
	}
	if v := values.Get("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			p.PageSize = n
		}
	}
	return p.Normalize()
}

func parseDate(v string) (time.Time, error) {
	return time.Parse(time.RFC3339, v)
}
