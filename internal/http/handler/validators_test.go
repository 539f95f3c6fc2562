package handler_test

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/bigkaiyoh/TGF-Scholar/internal/http/handler"
)

func TestAccountIDRule(t *testing.T) {
	v := validator.New()
	handler.InitValidators(v)

	type payload struct {
		UserID string `json:"user_id" validate:"account_id"`
	}
	for _, id := range []string{"alice", "a.b-c_d", "s2024001"} {
		require.NoError(t, v.Struct(payload{UserID: id}), id)
	}
	for _, id := range []string{"ab", "has space", "_leading", "日本語ID", ""} {
		err := v.Struct(payload{UserID: id})
		require.Error(t, err, id)
		var verrs validator.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		require.Equal(t, "user_id", verrs[0].Field())
	}
}
