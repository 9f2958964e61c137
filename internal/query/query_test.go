package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderingest/core/internal/order"
	"github.com/orderingest/core/internal/orderrepo"
	"github.com/orderingest/core/internal/partner"
)

func TestParseOrderQuery_Defaults(t *testing.T) {
	f, p, s, errs := ParseOrderQuery(url.Values{})
	require.Empty(t, errs)
	assert.Nil(t, f.PartnerID)
	assert.Equal(t, order.DefaultPage(), p)
	assert.Equal(t, orderrepo.DefaultSort(), s)
}

func TestParseOrderQuery_ShortPartnerForm(t *testing.T) {
	f, _, _, errs := ParseOrderQuery(url.Values{"partnerId": {"a"}})
	require.Empty(t, errs)
	require.NotNil(t, f.PartnerID)
	assert.Equal(t, partner.A, *f.PartnerID)
}

func TestParseOrderQuery_UnknownPartnerIsError(t *testing.T) {
	_, _, _, errs := ParseOrderQuery(url.Values{"partnerId": {"PARTNER_Z"}})
	require.Len(t, errs, 1)
	assert.Equal(t, "partnerId", errs[0].Field)
}

func TestParseOrderQuery_PageSizeClampedToCeiling(t *testing.T) {
	_, p, _, errs := ParseOrderQuery(url.Values{"pageSize": {"500"}})
	require.Empty(t, errs)
	assert.Equal(t, order.MaxPageSize, p.PageSize)
}

func TestParseOrderQuery_SortByAndSortOrder(t *testing.T) {
	_, _, s, errs := ParseOrderQuery(url.Values{"sortBy": {"grossAmount"}, "sortOrder": {"asc"}})
	require.Empty(t, errs)
	assert.Equal(t, orderrepo.SortGrossAmount, s.Field)
	assert.Equal(t, orderrepo.Asc, s.Order)
}

func TestParseOrderQuery_MinMaxAmount(t *testing.T) {
	f, _, _, errs := ParseOrderQuery(url.Values{"minAmount": {"10.5"}, "maxAmount": {"bad"}})
	require.Len(t, errs, 1)
	assert.Equal(t, "maxAmount", errs[0].Field)
	require.NotNil(t, f.MinAmount)
	assert.Equal(t, "10.5", f.MinAmount.String())
}
