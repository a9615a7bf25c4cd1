package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_Redact(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name    string
		in      string
		secret  string
		wantOut string
	}{
		{
			name:    "quoted password",
			in:      `login attempt password: "secret123" from console`,
			secret:  "secret123",
			wantOut: `login attempt password: ***MASKED*** from console`,
		},
		{
			name:    "api key in query string",
			in:      "GET /export?api_key=abcd1234&format=csv",
			secret:  "abcd1234",
			wantOut: "GET /export?api_key=***MASKED***&format=csv",
		},
		{
			name:    "json access token",
			in:      `{"user":"bob","access_token": "eyJhbGciOi"}`,
			secret:  "eyJhbGciOi",
			wantOut: `{"user":"bob","access_token": ***MASKED***}`,
		},
		{
			name:    "case insensitive key",
			in:      "PASSWORD=hunter2",
			secret:  "hunter2",
			wantOut: "PASSWORD=***MASKED***",
		},
		{
			name:    "bare ssn",
			in:      "vendor tax id 123-45-6789 verified",
			secret:  "123-45-6789",
			wantOut: "vendor tax id ***MASKED*** verified",
		},
		{
			name:    "ssn key without dashes",
			in:      "ssn: 123456789",
			secret:  "123456789",
			wantOut: "ssn: ***MASKED***",
		},
		{
			name:    "card with spaces",
			in:      "paid with 4111 1111 1111 1111 today",
			secret:  "4111 1111 1111 1111",
			wantOut: "paid with ***MASKED*** today",
		},
		{
			name:    "card without separators",
			in:      "card=5500000000000004",
			secret:  "5500000000000004",
			wantOut: "card=***MASKED***",
		},
		{
			name:    "amex",
			in:      "amex 3782-822463-10005 charged",
			secret:  "3782-822463-10005",
			wantOut: "amex ***MASKED*** charged",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Redact(tt.in)
			assert.Equal(t, tt.wantOut, got)
			assert.NotContains(t, got, tt.secret)
			assert.Contains(t, got, MaskToken)
		})
	}
}

func TestRedactor_LeavesPlainTextAlone(t *testing.T) {
	r := NewRedactor()

	for _, in := range []string{
		"",
		"Created invoice INV-42 for vendor ACME",
		"approved 3 of 5 line items, total 1250.00",
		"monkey business",
	} {
		assert.Equal(t, in, r.Redact(in))
	}
}

func TestNewRecord_Defaults(t *testing.T) {
	now := fixedNow()
	rec := NewRecord(Event{Action: "LOGIN", Details: "password=qwerty"}, NewRedactor(), 7, now, "billing")

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, uint64(7), rec.Seq)
	assert.Equal(t, SystemActor, rec.ActorID)
	assert.Equal(t, now, rec.Timestamp)
	assert.Equal(t, "billing", rec.ServiceName)
	assert.Equal(t, ResultSuccess, rec.Result)
	assert.Equal(t, "password=***MASKED***", rec.Details)
}

func TestNewRecord_OptionsOverrideDefaults(t *testing.T) {
	ev := newEvent("u-1", "INVOICE_UPDATE", "amount changed", []Option{
		WithService("payables"),
		WithEntity("Invoice", "INV-9"),
		WithSession("s-1"),
		WithRequest("r-1"),
		WithIP("10.0.0.1"),
		WithResult(ResultFailure),
	})
	rec := NewRecord(ev, nil, 1, fixedNow(), "billing")

	assert.Equal(t, "u-1", rec.ActorID)
	assert.Equal(t, "payables", rec.ServiceName)
	assert.Equal(t, "Invoice", rec.EntityType)
	assert.Equal(t, "INV-9", rec.EntityID)
	assert.Equal(t, "s-1", rec.SessionID)
	assert.Equal(t, "r-1", rec.RequestID)
	assert.Equal(t, "10.0.0.1", rec.IPAddress)
	assert.Equal(t, ResultFailure, rec.Result)
}
