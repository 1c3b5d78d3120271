package waitinglist

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	testutil "github.com/districtscouts/roster/internal/database/testutil"
	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
)

var header = []any{"Member ID", "First name", "Last name", "Date of Birth", "Joined", "Section", "Group"}

func workbook(t *testing.T, rows ...[]any) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

func TestReadRows(t *testing.T) {
	rows, err := ReadRows(workbook(t,
		header,
		[]any{"1001", "Mowgli", "Jungle", "2016-05-04", "03/01/2024", "Cubs", "1st Town"},
		[]any{},
		[]any{"1002", "Kaa", "", "", "", "Young Leaders", ""},
	))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "1001", rows[0].OSMID)
	require.Equal(t, 2, rows[0].Line)
	require.Equal(t, "cubs", rows[0].SectionType)
	require.NotNil(t, rows[0].DateOfBirth)
	require.Equal(t, 2016, rows[0].DateOfBirth.Year())
	require.NotNil(t, rows[0].JoinedAt)
	require.Equal(t, 1, int(rows[0].JoinedAt.Month()))

	require.Equal(t, 4, rows[1].Line)
	require.Equal(t, "young_leaders", rows[1].SectionType)
	require.Nil(t, rows[1].DateOfBirth)
}

func TestReadRowsRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		rows [][]any
	}{
		{"missing id column", [][]any{{"First name"}, {"Mowgli"}}},
		{"header only", [][]any{header}},
		{"blank first name", [][]any{header, {"1001", "", "", "", "", "", ""}}},
		{"unknown section", [][]any{header, {"1001", "Mowgli", "", "", "", "Otters", ""}}},
		{"bad date", [][]any{header, {"1001", "Mowgli", "", "last spring", "", "", ""}}},
		{"duplicate member", [][]any{header, {"1001", "Mowgli"}, {"1001", "Mowgli"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadRows(workbook(t, tt.rows...))
			require.ErrorIs(t, err, apperrors.ErrMalformedPayload)
		})
	}

	_, err := ReadRows(bytes.NewReader([]byte("not a workbook")))
	require.ErrorIs(t, err, apperrors.ErrMalformedPayload)
}

func TestImportUpsertsAndPrunes(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	fixtures := testutil.NewFixtures(t, db)
	group := fixtures.Group(fixtures.District("D1"), "G1")

	importer, err := NewImporter(db)
	require.NoError(t, err)
	ctx := context.Background()

	report, err := importer.Import(ctx, workbook(t,
		header,
		[]any{"1001", "Mowgli", "Jungle", "", "", "Cubs", "Group G1"},
		[]any{"1002", "Kaa", "", "", "", "Beavers", "g1"},
	))
	require.NoError(t, err)
	require.Equal(t, 2, report.Created)

	var entry models.WaitingListEntry
	require.NoError(t, db.Where("osm_id = ?", "1002").Take(&entry).Error)
	require.NotNil(t, entry.GroupID)
	require.Equal(t, group.ID, *entry.GroupID)

	report, err = importer.Import(ctx, workbook(t,
		header,
		[]any{"1002", "Kaa", "Snake", "", "", "Beavers", ""},
	))
	require.NoError(t, err)
	require.Equal(t, 0, report.Created)
	require.Equal(t, 1, report.Updated)
	require.Equal(t, []string{"1001"}, report.Deleted)

	require.NoError(t, db.Where("osm_id = ?", "1002").Take(&entry).Error)
	require.Equal(t, "Snake", entry.LastName)
	require.Nil(t, entry.GroupID)
}

func TestImportUnknownGroupWritesNothing(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	importer, err := NewImporter(db)
	require.NoError(t, err)

	_, err = importer.Import(context.Background(), workbook(t,
		header,
		[]any{"1001", "Mowgli", "", "", "", "Cubs", ""},
		[]any{"1002", "Kaa", "", "", "", "Cubs", "Nowhere"},
	))
	require.ErrorIs(t, err, apperrors.ErrLookupNotFound)

	var count int64
	require.NoError(t, db.Model(&models.WaitingListEntry{}).Count(&count).Error)
	require.Zero(t, count)
}
