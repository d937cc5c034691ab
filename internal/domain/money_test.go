package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "integer", in: "30", want: "30.00"},
		{name: "two places", in: "25.50", want: "25.50"},
		{name: "trailing zeros beyond places", in: "10.500", want: "10.50"},
		{name: "whitespace", in: " 1.5 ", want: "1.50"},
		{name: "three places", in: "1.005", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatMoney(got))
		})
	}
}

func TestValidateSaleValue(t *testing.T) {
	assert.NoError(t, ValidateSaleValue(decimal.RequireFromString("0.01")))
	assert.ErrorIs(t, ValidateSaleValue(decimal.Zero), ErrInvalidSaleValue)
	assert.ErrorIs(t, ValidateSaleValue(decimal.RequireFromString("-5")), ErrInvalidSaleValue)
	assert.ErrorIs(t, ValidateSaleValue(decimal.RequireFromString("0.001")), ErrInvalidSaleValue)
	assert.NoError(t, ValidateSaleValue(MaxMoney))
	assert.ErrorIs(t, ValidateSaleValue(MaxMoney.Add(decimal.RequireFromString("0.01"))), ErrInvalidSaleValue)
	assert.ErrorIs(t, ValidateSaleValue(decimal.RequireFromString("1000000000000000.00")), ErrInvalidSaleValue)
}

func TestInMoneyRange(t *testing.T) {
	assert.True(t, InMoneyRange(decimal.Zero))
	assert.True(t, InMoneyRange(MaxMoney))
	assert.False(t, InMoneyRange(MaxMoney.Add(decimal.RequireFromString("0.01"))))
	assert.False(t, InMoneyRange(decimal.RequireFromString("-0.01")))
}

func TestClientInfoNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      ClientInfo
		wantErr bool
	}{
		{name: "empty is allowed", in: ClientInfo{}},
		{name: "full", in: ClientInfo{Name: " Ana ", Email: "ana@example.com", Phone: "+55 (11) 99999-0000"}},
		{name: "bad email", in: ClientInfo{Email: "not-an-email"}, wantErr: true},
		{name: "email without dot in domain", in: ClientInfo{Email: "ana@localhost"}, wantErr: true},
		{name: "display name email", in: ClientInfo{Email: "Ana <ana@example.com>"}, wantErr: true},
		{name: "short phone", in: ClientInfo{Phone: "123"}, wantErr: true},
		{name: "letters in phone", in: ClientInfo{Phone: "555-CALL-NOW"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			err := c.Normalize()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidClientInfo)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSaleSubmissionValidate(t *testing.T) {
	s := SaleSubmission{AttendantID: "  ", Value: decimal.NewFromInt(1)}
	assert.ErrorIs(t, s.Validate(), ErrAttendantNotFound)

	s = SaleSubmission{AttendantID: "a1", Value: decimal.NewFromInt(1), Client: ClientInfo{Name: " Bob "}}
	require.NoError(t, s.Validate())
	assert.Equal(t, "Bob", s.Client.Name)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsValidationError(ErrInvalidSaleValue))
	assert.True(t, IsNotFoundError(ErrAttendantNotFound))
	assert.True(t, IsConflictError(ErrConflict))
	assert.False(t, IsValidationError(ErrInternalError))
}
