package qrcode

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
		check func(t *testing.T, c Code)
	}{
		{
			name:  "join url",
			input: "https://skipline.app/join/ACME123",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "ACME123", c.(Company).JoinCode)
			},
		},
		{
			name:  "join url with query",
			input: "https://skipline.app/join/ACME123?ref=poster",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "ACME123", c.(Company).JoinCode)
			},
		},
		{
			name:  "bare join path",
			input: "/join/XYZ789",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "XYZ789", c.(Company).JoinCode)
			},
		},
		{
			name:  "join url carrying stored company code",
			input: "https://skipline.app/join/COMPANY_AB12CD_1700000000000",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "AB12CD", c.(Company).JoinCode)
			},
		},
		{
			name:  "company literal",
			input: "COMPANY_AB12CD_1700000000000",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "AB12CD", c.(Company).JoinCode)
			},
		},
		{
			name:  "skipline company literal",
			input: "SKIPLINE_COMPANY_AB12CD",
			kind:  KindCompany,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "AB12CD", c.(Company).JoinCode)
			},
		},
		{
			name:  "prefixed user id",
			input: "SKIPLINE_USER_8d7c51d2-5a8e-4bb1-9d2a-2f0c5a1b9e11",
			kind:  KindCustomer,
			check: func(t *testing.T, c Code) {
				cust := c.(Customer)
				assert.Equal(t, "8d7c51d2-5a8e-4bb1-9d2a-2f0c5a1b9e11", cust.ID)
				assert.Empty(t, cust.StoredCode)
			},
		},
		{
			name:  "client url",
			input: "https://skipline.app/client/abc-123",
			kind:  KindCustomer,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "abc-123", c.(Customer).ID)
			},
		},
		{
			name:  "visitor code",
			input: "SKIPLINE_VISITOR_K3J9QZ_1700000000000",
			kind:  KindGuest,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "SKIPLINE_VISITOR_K3J9QZ_1700000000000", c.(Guest).Code)
			},
		},
		{
			name:  "stored profile code",
			input: "SKIPLINE_8D7C51D2_1700000000000",
			kind:  KindCustomer,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "SKIPLINE_8D7C51D2_1700000000000", c.(Customer).StoredCode)
			},
		},
		{
			name:  "db code",
			input: "QR_8d7c51d2",
			kind:  KindCustomer,
			check: func(t *testing.T, c Code) {
				assert.Equal(t, "QR_8d7c51d2", c.(Customer).StoredCode)
			},
		},
		{
			name:  "surrounding whitespace",
			input: "  /join/ACME123 \n",
			kind:  KindCompany,
		},
		{name: "random text", input: "hello world", kind: KindUnrecognized},
		{name: "empty", input: "", kind: KindUnrecognized},
		{name: "empty join", input: "/join/", kind: KindUnrecognized},
		{name: "bare prefix", input: "SKIPLINE_USER_", kind: KindUnrecognized},
		{name: "bare visitor prefix", input: "SKIPLINE_VISITOR_", kind: KindUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.input)
			require.Equal(t, tt.kind, c.Kind())
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestClassifyUnrecognizedKeepsValue(t *testing.T) {
	c := Classify("nope")
	u, ok := c.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "nope", u.Value)
}

func TestGeneratedCodesClassify(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	profile := NewProfileCode("8d7c51d2-5a8e-4bb1-9d2a-2f0c5a1b9e11", now)
	assert.Equal(t, "SKIPLINE_8D7C51D2_1700000000000", profile)
	assert.Equal(t, KindCustomer, Classify(profile).Kind())

	join := NewJoinCode()
	assert.Len(t, join, 6)
	company := NewCompanyCode(join, now)
	c := Classify(company)
	require.Equal(t, KindCompany, c.Kind())
	assert.Equal(t, join, c.(Company).JoinCode)

	guest := NewGuestCode(now)
	assert.True(t, strings.HasPrefix(guest, PrefixVisitor))
	assert.Equal(t, KindGuest, Classify(guest).Kind())

	url := JoinURL("https://skipline.app/", join)
	assert.Equal(t, "https://skipline.app/join/"+join, url)
	assert.Equal(t, join, Classify(url).(Company).JoinCode)
}
