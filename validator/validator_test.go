package validator_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/validator"
)

type line struct {
	ProductID string          `json:"product_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
}

type request struct {
	Kind  string `json:"kind" validate:"oneof=customer supplier"`
	Lines []line `json:"lines" validate:"min=1,dive"`
}

func TestStruct_Valid(t *testing.T) {
	err := validator.Struct(request{
		Kind:  "customer",
		Lines: []line{{ProductID: "p1", Quantity: decimal.NewFromFloat(0.5)}},
	})
	assert.NoError(t, err)
}

func TestStruct_FieldErrors(t *testing.T) {
	err := validator.Struct(request{
		Kind:  "robot",
		Lines: []line{{Quantity: decimal.Zero}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))

	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "must be one of customer supplier", ve.Fields["request.kind"])
	assert.Equal(t, "is required", ve.Fields["request.lines[0].product_id"])
	assert.Equal(t, "must be greater than 0", ve.Fields["request.lines[0].quantity"])
}

func TestStruct_EmptyLines(t *testing.T) {
	err := validator.Struct(request{Kind: "supplier"})
	var ve *core.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "request.lines")
}
