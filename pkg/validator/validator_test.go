package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

type testPage struct {
	Results []testRow `json:"results" validate:"dive"`
}

type testRow struct {
	ID   string `json:"id" validate:"required"`
	Slug string `json:"slug" validate:"mailslug"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Username: "",
		Email:    "invalid",
		Age:      10,
	}

	err := ValidateStruct(payload)
	require.Error(t, err)

	vErrs, ok := err.(ValidationErrors)
	require.True(t, ok, "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 3)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "required", fields["username"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "gte", fields["age"])
}

func TestValidateStructReportsNestedPath(t *testing.T) {
	page := testPage{Results: []testRow{
		{ID: "1", Slug: "explorers"},
		{ID: "", Slug: "Bad Slug"},
	}}

	err := ValidateStruct(page)
	require.Error(t, err)

	vErrs := err.(ValidationErrors)
	require.Len(t, vErrs, 2)
	require.Equal(t, "results[1].id", vErrs[0].Path)
	require.Equal(t, "results[1].slug", vErrs[1].Path)
	require.Contains(t, err.Error(), "results[1].slug failed on mailslug")
}

func TestIsMailSlug(t *testing.T) {
	require.True(t, IsMailSlug("young-leaders"))
	require.True(t, IsMailSlug("1st-anytown"))
	require.False(t, IsMailSlug("Young Leaders"))
	require.False(t, IsMailSlug("-lead"))
	require.False(t, IsMailSlug(""))
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("is_roster", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "roster"
	}))

	type custom struct {
		Name string `json:"name" validate:"is_roster"`
	}

	require.NoError(t, ValidateStruct(custom{Name: "roster"}))
	require.Error(t, ValidateStruct(custom{Name: "other"}))
}
