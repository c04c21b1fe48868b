package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	return NewSchema("departureTime", false,
		Field{Param: "id", Column: "id", Type: TypeNumber},
		Field{Param: "flightNumber", Column: "flight_number", Type: TypeString, Searchable: true},
		Field{Param: "origin", Column: "origin", Type: TypeString, Searchable: true},
		Field{Param: "destination", Column: "destination", Type: TypeString, Searchable: true},
		Field{Param: "departureTime", Column: "departure_time", Type: TypeTime},
		Field{Param: "status", Column: "status", Type: TypeEnum, Enum: []string{"Scheduled", "Delayed", "Cancelled"}},
		Field{Param: "price", Column: "price_economy", Type: TypeNumber},
	)
}

func TestParseFilterSortPagination(t *testing.T) {
	values, err := url.ParseQuery("status=Scheduled,Delayed&priceGte=100&sort=-departureTime&page=2&limit=10")
	require.NoError(t, err)

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	clause, args := feats.WhereClause(0)
	assert.Equal(t, "WHERE price_economy >= $1 AND status IN ($2, $3)", clause)
	assert.Equal(t, []interface{}{float64(100), "Scheduled", "Delayed"}, args)

	assert.Equal(t, "ORDER BY departure_time DESC", feats.OrderByClause())

	limit, offset := feats.LimitOffset()
	assert.Equal(t, 10, limit)
	assert.Equal(t, 10, offset)
	assert.Equal(t, 2, feats.Page())
}

func TestParseDefaults(t *testing.T) {
	feats, err := Parse(url.Values{}, testSchema())
	require.NoError(t, err)

	clause, args := feats.WhereClause(0)
	assert.Empty(t, clause)
	assert.Empty(t, args)

	assert.Equal(t, "ORDER BY departure_time ASC", feats.OrderByClause())

	limit, offset := feats.LimitOffset()
	assert.Equal(t, DefaultLimit, limit)
	assert.Equal(t, 0, offset)
}

func TestParseRejectsUnknownField(t *testing.T) {
	cases := []url.Values{
		{"$where": []string{"sleep(1000)"}},
		{"availableSeats": []string{"0"}},
		{"status;DROP TABLE flights": []string{"x"}},
	}
	for _, values := range cases {
		_, err := Parse(values, testSchema())
		assert.ErrorIs(t, err, ErrBadParameter)
	}
}

func TestParseRejectsUntypableValues(t *testing.T) {
	cases := map[string]string{
		"price":         "100 OR 1=1",
		"priceGte":      "abc",
		"status":        "Scheduled' --",
		"departureTime": "not-a-date",
	}
	for param, raw := range cases {
		values := url.Values{param: []string{raw}}
		_, err := Parse(values, testSchema())
		assert.ErrorIs(t, err, ErrBadParameter, param)
	}
}

func TestOperatorTokensInValuesStayLiteral(t *testing.T) {
	// A hostile string value never reaches the SQL text, only the bind
	// arguments.
	values := url.Values{"origin": []string{"Jakarta' OR '1'='1"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	clause, args := feats.WhereClause(0)
	assert.Equal(t, "WHERE origin = $1", clause)
	assert.Equal(t, []interface{}{"Jakarta' OR '1'='1"}, args)
}

func TestSearchFansOutOverSearchableFields(t *testing.T) {
	values := url.Values{"search": []string{"Tok"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	clause, args := feats.WhereClause(0)
	assert.Equal(t, "WHERE (flight_number ILIKE $1 OR origin ILIKE $1 OR destination ILIKE $1)", clause)
	assert.Equal(t, []interface{}{"%Tok%"}, args)
}

func TestSearchEscapesLikeMetacharacters(t *testing.T) {
	values := url.Values{"search": []string{`50%_off\`}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	_, args := feats.WhereClause(0)
	require.Len(t, args, 1)
	assert.Equal(t, `%50\%\_off\\%`, args[0])
}

func TestProjection(t *testing.T) {
	values := url.Values{"fields": []string{"flightNumber,origin,bogus,origin"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	// Unknown names and duplicates are dropped.
	assert.Equal(t, []string{"flight_number", "origin"}, feats.SelectColumns())
}

func TestProjectionDefaultsToAllColumns(t *testing.T) {
	values := url.Values{"fields": []string{"bogus"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)
	assert.Len(t, feats.SelectColumns(), 7)
}

func TestSortIgnoresUnknownKeys(t *testing.T) {
	values := url.Values{"sort": []string{"bogus,-price"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)
	assert.Equal(t, "ORDER BY price_economy DESC", feats.OrderByClause())
}

func TestPaginationFallsBackOnGarbage(t *testing.T) {
	values := url.Values{"page": []string{"-3"}, "limit": []string{"abc"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	limit, offset := feats.LimitOffset()
	assert.Equal(t, DefaultLimit, limit)
	assert.Equal(t, 0, offset)
}

func TestAndClauseContinuesPlaceholderNumbering(t *testing.T) {
	values := url.Values{"status": []string{"Scheduled"}}

	feats, err := Parse(values, testSchema())
	require.NoError(t, err)

	clause, args := feats.AndClause(1)
	assert.Equal(t, "AND status = $2", clause)
	assert.Equal(t, []interface{}{"Scheduled"}, args)
}

func TestRangeSuffixRequiresKnownBaseField(t *testing.T) {
	// "priceGte" resolves to price >=, but a suffix on an unknown base
	// is rejected as a whole.
	values := url.Values{"weightGte": []string{"10"}}

	_, err := Parse(values, testSchema())
	assert.ErrorIs(t, err, ErrBadParameter)
}
