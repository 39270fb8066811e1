// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package importer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
	"github.com/ManuGH/lure/internal/testutil"
)

func TestParseCSVStripsBOM(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader("\ufeffEmail,First_Name,ignored\nA@x.test,Ann,zzz\n,,\n"))
	require.NoError(t, err)
	want := []Row{{"email": "A@x.test", "first_name": "Ann", "ignored": "zzz"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCSVWindows1252(t *testing.T) {
	// "José" with é encoded as 0xE9.
	rows, err := ParseCSV(bytes.NewReader([]byte("email,first_name\nj@x.test,Jos\xe9\n")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "José", rows[0]["first_name"])
}

func TestParseCSVLimits(t *testing.T) {
	var b strings.Builder
	b.WriteString("email\n")
	for i := 0; i <= MaxRows; i++ {
		b.WriteString("a@x.test\n")
	}
	_, err := ParseCSV(strings.NewReader(b.String()))
	assert.ErrorIs(t, err, ErrTooManyRows)

	_, err = ParseCSV(bytes.NewReader(make([]byte, MaxBytes+1)))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = ParseCSV(strings.NewReader("email\n\"unterminated\n"))
	assert.ErrorIs(t, err, ErrInvalidCSV)
}

func TestParseFileDispatch(t *testing.T) {
	_, err := ParseFile("people.XLS", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrLegacyXLS)
	assert.Equal(t, "Legacy .xls files are not supported; save as .xlsx", err.Error())

	_, err = ParseFile("people.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	var uerr Error
	assert.True(t, errors.As(err, &uerr))
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Email", "First_Name", "Is_Active"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"b@x.test", "Bob", "no"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	rows, err := ParseFile("staff.xlsx", &buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"email": "b@x.test", "first_name": "Bob", "is_active": "no"}, rows[0])
}

func TestParseJSON(t *testing.T) {
	rows, err := ParseJSON([]map[string]any{{"email": "c@x.test", "is_active": false, "phone": float64(5551234), "job_title": nil}})
	require.NoError(t, err)
	assert.Equal(t, Row{"email": "c@x.test", "is_active": "false", "phone": "5551234"}, rows[0])
}

func TestNormalize(t *testing.T) {
	got := Normalize(Row{"email": "  Bob@X.Test ", "risk_level": "HIGH", "is_active": "N", "first_name": " Bob "})
	assert.Equal(t, "bob@x.test", got.Email)
	assert.Equal(t, "high", got.RiskLevel)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Bob", got.FirstName)

	got = Normalize(Row{"risk_level": "extreme", "is_active": "maybe"})
	assert.Equal(t, model.LevelMedium, got.RiskLevel)
	assert.True(t, got.IsActive)
}

type capLimiter struct{ max int }

func (c capLimiter) CheckTargets(_ context.Context, _ string, adding int) error {
	if adding > c.max {
		return errors.New("plan limit reached")
	}
	return nil
}

func validRow(email string) Row {
	return Row{"email": email, "first_name": "F", "last_name": "L", "department": "Ops", "job_title": "Clerk"}
}

func TestRunPipeline(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	testutil.AddTargets(t, st, f.Org.ID, 1) // user00@example.test
	ctx := context.Background()

	rows := []Row{
		validRow("new1@x.test"),
		{"first_name": "NoEmail"},
		validRow("NEW1@x.test"),
		validRow("user00@example.test"),
		{"email": "bad-address", "first_name": "F", "last_name": "L", "department": "Ops", "job_title": "Clerk"},
		{"email": "nolast@x.test", "first_name": "F", "department": "Ops", "job_title": "Clerk", "phone": "1234567890123456"},
		validRow("new2@x.test"),
	}
	res, err := New(st, nil).Run(ctx, f.Org.ID, f.Manager.ID, "staff.csv", rows)
	require.NoError(t, err)

	assert.Equal(t, 2, res.CreatedCount)
	assert.Equal(t, []string{
		"Row 2: email is required",
		"Row 3: duplicate email in file (new1@x.test)",
		"Email already exists: user00@example.test",
		"bad-address: email: Enter a valid email address.",
		"nolast@x.test: last_name: This field is required.",
		"nolast@x.test: phone: Ensure this field has no more than 15 characters.",
	}, res.Errors)
	assert.Equal(t, len(res.Errors), res.ErrorCount)
	require.Len(t, res.CreatedTargets, 2)
	assert.Equal(t, "new1@x.test", res.CreatedTargets[0].Email)
	assert.NotEmpty(t, res.ImportID)

	imports, err := st.ListImports(ctx, f.Org.ID, storeParams())
	require.NoError(t, err)
	require.Len(t, imports.Results, 1)
	imp := imports.Results[0]
	assert.Equal(t, model.ImportCompleted, imp.Status)
	assert.Equal(t, 7, imp.TotalRecords)
	assert.Equal(t, 2, imp.SuccessfulImports)
	assert.Equal(t, 6, imp.FailedImports)
	assert.Contains(t, imp.ErrorLog, "Row 2: email is required\nRow 3")
}

func TestRunNothingCreatedIsFailed(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	ctx := context.Background()

	res, err := New(st, nil).Run(ctx, f.Org.ID, f.Manager.ID, "x.csv", []Row{{"first_name": "A"}})
	require.NoError(t, err)
	assert.Zero(t, res.CreatedCount)

	imports, err := st.ListImports(ctx, f.Org.ID, storeParams())
	require.NoError(t, err)
	require.Len(t, imports.Results, 1)
	assert.Equal(t, model.ImportFailed, imports.Results[0].Status)
}

func TestRunEmptyInput(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)

	ctx := context.Background()

	res, err := New(st, nil).Run(ctx, f.Org.ID, f.Manager.ID, "x.csv", nil)
	require.NoError(t, err)
	assert.Zero(t, res.CreatedCount)
	assert.Zero(t, res.ErrorCount)
	assert.Empty(t, res.CreatedTargets)
	require.NotEmpty(t, res.ImportID)

	imports, err := st.ListImports(ctx, f.Org.ID, storeParams())
	require.NoError(t, err)
	require.Len(t, imports.Results, 1)
	imp := imports.Results[0]
	assert.Equal(t, res.ImportID, imp.ID)
	assert.Equal(t, "x.csv", imp.FileName)
	assert.Zero(t, imp.TotalRecords)
	assert.Zero(t, imp.SuccessfulImports)
	assert.Zero(t, imp.FailedImports)
	assert.Equal(t, model.ImportCompleted, imp.Status)
}

func TestRunPlanLimit(t *testing.T) {
	st := testutil.NewStore(t, testutil.NewClock())
	f := testutil.Seed(t, st)
	ctx := context.Background()

	_, err := New(st, capLimiter{max: 1}).Run(ctx, f.Org.ID, f.Manager.ID, "x.csv",
		[]Row{validRow("a@x.test"), validRow("b@x.test")})
	require.Error(t, err)

	n, err := st.CountTargets(ctx, f.Org.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is written past the limit")
}

func storeParams() store.ListParams { return store.ListParams{} }
