// Package waitinglist imports waiting-list exports from Online Scout Manager spreadsheets.
package waitinglist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/districtscouts/roster/internal/models"
	apperrors "github.com/districtscouts/roster/pkg/errors"
	"github.com/districtscouts/roster/pkg/logger"
	"github.com/districtscouts/roster/pkg/validator"
)

// Column keys after header normalisation.
const (
	ColumnMemberID    = "member_id"
	ColumnFirstName   = "first_name"
	ColumnLastName    = "last_name"
	ColumnDateOfBirth = "date_of_birth"
	ColumnJoined      = "joined"
	ColumnSection     = "section"
	ColumnGroup       = "group"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "01-02-06"}

// Row is one validated spreadsheet row.
type Row struct {
	Line        int
	OSMID       string `json:"member_id" validate:"required"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name"`
	SectionType string `json:"section" validate:"omitempty,oneof=squirrels beavers cubs scouts explorers network young_leaders"`
	Group       string `json:"group"`
	DateOfBirth *time.Time
	JoinedAt    *time.Time
}

// ImportReport summarises a waiting-list import.
type ImportReport struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Deleted []string `json:"deleted,omitempty"`
}

func (r ImportReport) String() string {
	return fmt.Sprintf("waiting list: %d created, %d updated, %d removed", r.Created, r.Updated, len(r.Deleted))
}

// Summary flattens the report for audit metadata.
func (r ImportReport) Summary() map[string]any {
	return map[string]any{"created": r.Created, "updated": r.Updated, "deleted": len(r.Deleted)}
}

type Importer struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewImporter(db *gorm.DB) (*Importer, error) {
	if db == nil {
		return nil, errors.New("waiting list importer: db is required")
	}
	return &Importer{db: db, log: logger.WithModule("waiting_list")}, nil
}

// Import reads the first sheet of the workbook in r and replaces the waiting list with its rows.
func (i *Importer) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	rows, err := ReadRows(r)
	if err != nil {
		return ImportReport{}, err
	}

	var report ImportReport
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		groups, err := groupIndex(tx)
		if err != nil {
			return err
		}

		seen := make([]string, 0, len(rows))
		for _, row := range rows {
			var groupID *string
			if row.Group != "" {
				id, ok := groups[strings.ToLower(row.Group)]
				if !ok {
					return apperrors.ErrLookupNotFound.Withf("waiting list row %d: unknown group %q", row.Line, row.Group)
				}
				groupID = &id
			}

			var entry models.WaitingListEntry
			err := tx.Where("osm_id = ?", row.OSMID).Take(&entry).Error
			created := errors.Is(err, gorm.ErrRecordNotFound)
			if err != nil && !created {
				return fmt.Errorf("waiting list importer: find %s: %w", row.OSMID, err)
			}

			entry.OSMID = row.OSMID
			entry.FirstName = row.FirstName
			entry.LastName = row.LastName
			entry.DateOfBirth = row.DateOfBirth
			entry.JoinedAt = row.JoinedAt
			entry.SectionType = models.SectionType(row.SectionType)
			entry.GroupID = groupID

			if created {
				err = tx.Create(&entry).Error
				report.Created++
			} else {
				err = tx.Save(&entry).Error
				report.Updated++
			}
			if err != nil {
				return fmt.Errorf("waiting list importer: write %s: %w", row.OSMID, err)
			}
			seen = append(seen, row.OSMID)
		}

		var stale []models.WaitingListEntry
		if err := tx.Where("osm_id NOT IN ?", seen).Order("osm_id").Find(&stale).Error; err != nil {
			return fmt.Errorf("waiting list importer: find stale entries: %w", err)
		}
		for _, entry := range stale {
			if err := tx.Delete(&entry).Error; err != nil {
				return fmt.Errorf("waiting list importer: delete %s: %w", entry.OSMID, err)
			}
			report.Deleted = append(report.Deleted, entry.OSMID)
		}
		return nil
	})
	if err != nil {
		return ImportReport{}, err
	}

	i.log.Info("waiting list imported",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("deleted", len(report.Deleted)),
	)
	return report, nil
}

// groupIndex maps lower-cased group names and TSA ids to group ids.
func groupIndex(tx *gorm.DB) (map[string]string, error) {
	var groups []models.Group
	if err := tx.Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("waiting list importer: load groups: %w", err)
	}
	index := make(map[string]string, 2*len(groups))
	for _, g := range groups {
		index[strings.ToLower(g.TSAID)] = g.ID
		index[strings.ToLower(g.Name)] = g.ID
	}
	return index, nil
}

// ReadRows parses and validates the first sheet. The first row is the header; blank rows are
// ignored. A workbook without data rows is rejected.
func ReadRows(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperrors.ErrMalformedPayload.Withf("waiting list: unreadable workbook").WithInternal(err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.ErrMalformedPayload.Withf("waiting list: workbook has no sheets")
	}
	cells, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.ErrMalformedPayload.Withf("waiting list: read sheet %s", sheets[0]).WithInternal(err)
	}
	if len(cells) == 0 {
		return nil, apperrors.ErrMalformedPayload.Withf("waiting list: sheet %s is empty", sheets[0])
	}

	columns := make(map[string]int)
	for idx, header := range cells[0] {
		columns[headerKey(header)] = idx
	}
	for _, required := range []string{ColumnMemberID, ColumnFirstName} {
		if _, ok := columns[required]; !ok {
			return nil, apperrors.ErrMalformedPayload.Withf("waiting list: missing %s column", required)
		}
	}

	var rows []Row
	seen := make(map[string]int)
	for n, values := range cells[1:] {
		line := n + 2
		get := func(key string) string {
			idx, ok := columns[key]
			if !ok || idx >= len(values) {
				return ""
			}
			return strings.TrimSpace(values[idx])
		}
		if strings.TrimSpace(strings.Join(values, "")) == "" {
			continue
		}

		row := Row{
			Line:        line,
			OSMID:       get(ColumnMemberID),
			FirstName:   get(ColumnFirstName),
			LastName:    get(ColumnLastName),
			SectionType: strings.ReplaceAll(models.Slugify(get(ColumnSection)), "-", "_"),
			Group:       get(ColumnGroup),
		}
		if row.DateOfBirth, err = parseDate(get(ColumnDateOfBirth)); err != nil {
			return nil, apperrors.ErrMalformedPayload.Withf("waiting list row %d: date of birth: %v", line, err)
		}
		if row.JoinedAt, err = parseDate(get(ColumnJoined)); err != nil {
			return nil, apperrors.ErrMalformedPayload.Withf("waiting list row %d: joined: %v", line, err)
		}
		if err := validator.ValidateStruct(row); err != nil {
			return nil, apperrors.ErrMalformedPayload.Withf("waiting list row %d: %v", line, err).WithInternal(err)
		}
		if previous, dup := seen[row.OSMID]; dup {
			return nil, apperrors.ErrMalformedPayload.Withf("waiting list row %d: member %s already on row %d", line, row.OSMID, previous)
		}
		seen[row.OSMID] = line
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrMalformedPayload.Withf("waiting list: no data rows")
	}
	return rows, nil
}

func headerKey(header string) string {
	key := strings.ReplaceAll(models.Slugify(header), "-", "_")
	switch key {
	case "id", "osm_id", "scout_id":
		return ColumnMemberID
	case "firstname", "forename":
		return ColumnFirstName
	case "lastname", "surname":
		return ColumnLastName
	case "dob", "date_of_birth", "birth_date":
		return ColumnDateOfBirth
	case "joined_at", "date_joined", "waiting_since":
		return ColumnJoined
	}
	return key
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", value)
}
