package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/contact-enricher/internal/model"
)

// Sheet names of the tracking workbook.
const (
	SheetContacts   = "Contacts"
	SheetParameters = "Parameters"
	SheetRuns       = "Runs"
)

var (
	contactsHeader   = []string{"email", "phone", "status", "lastStatusUpdate", "createdAt"}
	parametersHeader = []string{"lastCheck", "phones", "domains"}
	runsHeader       = []string{"id", "kind", "startedAt", "finishedAt", "stats", "error"}
)

// XLSXStore implements Store on a single workbook. The whole workbook is
// held in memory and rewritten on every mutation, so it suits the small
// operator-edited sheets the enricher was first run against.
type XLSXStore struct {
	path string

	mu    sync.Mutex
	wb    workbook
	index map[string]int // email to position in wb.contacts
}

// workbook is the in-memory content of the three sheets.
type workbook struct {
	contacts   []model.StagedContact
	checkpoint time.Time
	stop       model.StopLists
	runs       []model.Run
}

func (w workbook) clone() workbook {
	return workbook{
		contacts:   slices.Clone(w.contacts),
		checkpoint: w.checkpoint,
		stop:       model.StopLists{Phones: slices.Clone(w.stop.Phones), Domains: slices.Clone(w.stop.Domains)},
		runs:       slices.Clone(w.runs),
	}
}

func (w workbook) indexByEmail() map[string]int {
	index := make(map[string]int, len(w.contacts))
	for i, c := range w.contacts {
		index[c.Email] = i
	}
	return index
}

// NewXLSX loads the workbook at path. A missing file yields an empty store
// that is created on Migrate or on the first write.
func NewXLSX(path string) (*XLSXStore, error) {
	s := &XLSXStore{path: path, index: map[string]int{}}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}
	wb, err := loadWorkbook(f)
	if err != nil {
		return nil, err
	}
	s.wb = wb
	s.index = wb.indexByEmail()
	return s, nil
}

func loadWorkbook(f *xlsx.File) (workbook, error) {
	var wb workbook
	seen := map[string]bool{}

	if sheet, ok := f.Sheet[SheetContacts]; ok {
		for i, row := range sheet.Rows {
			if i == 0 {
				continue
			}
			cells := rowCells(row, len(contactsHeader))
			email := strings.TrimSpace(cells[0])
			if email == "" || seen[email] {
				continue
			}
			seen[email] = true
			wb.contacts = append(wb.contacts, model.StagedContact{
				Email:            email,
				Phone:            cells[1],
				Status:           model.ContactStatus(strings.TrimSpace(cells[2])),
				LastStatusUpdate: parseCellTime(cells[3]),
				CreatedAt:        parseCellTime(cells[4]),
			})
		}
	}

	if sheet, ok := f.Sheet[SheetParameters]; ok {
		for i, row := range sheet.Rows {
			if i == 0 {
				continue
			}
			cells := rowCells(row, len(parametersHeader))
			if i == 1 {
				t, err := parseCheckpointCell(cells[0])
				if err != nil {
					return workbook{}, err
				}
				wb.checkpoint = t
			}
			wb.stop = appendStopEntry(wb.stop, stopKindPhone, strings.TrimSpace(cells[1]))
			wb.stop = appendStopEntry(wb.stop, stopKindDomain, strings.ToLower(strings.TrimSpace(cells[2])))
		}
		wb.stop = model.StopLists{}.Merge(wb.stop)
	}

	if sheet, ok := f.Sheet[SheetRuns]; ok {
		for i, row := range sheet.Rows {
			if i == 0 {
				continue
			}
			cells := rowCells(row, len(runsHeader))
			if cells[0] == "" {
				continue
			}
			r := model.Run{
				ID:         cells[0],
				Kind:       model.RunKind(cells[1]),
				StartedAt:  parseCellTime(cells[2]),
				FinishedAt: parseCellTime(cells[3]),
				Error:      cells[5],
			}
			if cells[4] != "" {
				if err := json.Unmarshal([]byte(cells[4]), &r.Stats); err != nil {
					return workbook{}, eris.Wrapf(err, "xlsx: run %s stats", r.ID)
				}
			}
			wb.runs = append(wb.runs, r)
		}
	}
	return wb, nil
}

// commit applies fn to a copy of the workbook and, when fn reports a change,
// saves the copy and adopts it. A failed save leaves the store as it was.
// Callers hold s.mu.
func (s *XLSXStore) commit(fn func(next *workbook) bool) error {
	next := s.wb.clone()
	if !fn(&next) {
		return nil
	}
	if err := next.save(s.path); err != nil {
		return err
	}
	s.wb = next
	s.index = next.indexByEmail()
	return nil
}

func (s *XLSXStore) Migrate(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wb.save(s.path)
}

func (s *XLSXStore) Close() error {
	return nil
}

func (s *XLSXStore) ListContacts(_ context.Context, filter ContactFilter) ([]model.StagedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.StagedContact
	skipped := 0
	for _, c := range s.wb.contacts {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, c)
		if len(out) == listLimit(filter.Limit) {
			break
		}
	}
	return out, nil
}

func (s *XLSXStore) GetContact(_ context.Context, email string) (*model.StagedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[email]
	if !ok {
		return nil, nil
	}
	c := s.wb.contacts[i]
	return &c, nil
}

func (s *XLSXStore) StageContacts(_ context.Context, contacts []model.StagedContact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var written int
	err := s.commit(func(next *workbook) bool {
		added := map[string]bool{}
		for _, c := range contacts {
			c = normalizeStaged(c, now)
			if _, exists := s.index[c.Email]; exists || added[c.Email] {
				continue
			}
			added[c.Email] = true
			next.contacts = append(next.contacts, c)
			written++
		}
		return written > 0
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *XLSXStore) UpdateStatuses(_ context.Context, updates []model.StatusUpdate) (int, error) {
	if err := validateUpdates(updates); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int
	err := s.commit(func(next *workbook) bool {
		for _, u := range updates {
			i, ok := s.index[u.Email]
			if !ok || next.contacts[i].Status != model.ContactStatusWaiting {
				continue
			}
			next.contacts[i].Status = u.Status
			next.contacts[i].LastStatusUpdate = updateTime(u)
			changed++
		}
		return changed > 0
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

func (s *XLSXStore) GetCheckpoint(_ context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wb.checkpoint, nil
}

func (s *XLSXStore) SetCheckpoint(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func(next *workbook) bool {
		next.checkpoint = checkpointDate(t)
		return true
	})
}

func (s *XLSXStore) GetStopLists(_ context.Context) (model.StopLists, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.StopLists{}.Merge(s.wb.stop), nil
}

func (s *XLSXStore) AddStopLists(_ context.Context, lists model.StopLists) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func(next *workbook) bool {
		for _, e := range stopEntries(lists) {
			next.stop = appendStopEntry(next.stop, e.kind, e.value)
		}
		next.stop = model.StopLists{}.Merge(next.stop)
		return true
	})
}

func (s *XLSXStore) RecordRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commit(func(next *workbook) bool {
		next.runs = append(next.runs, *run)
		return true
	})
}

func (s *XLSXStore) ListRuns(_ context.Context, filter RunFilter) ([]model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Run
	for _, r := range s.wb.runs {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit := listLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// save writes the workbook to path.
func (w workbook) save(path string) error {
	f := xlsx.NewFile()

	if err := writeContactsSheet(f, w.contacts); err != nil {
		return err
	}

	params, err := f.AddSheet(SheetParameters)
	if err != nil {
		return eris.Wrap(err, "xlsx: add parameters sheet")
	}
	addStringRow(params, parametersHeader)
	n := max(1, len(w.stop.Phones), len(w.stop.Domains))
	for i := 0; i < n; i++ {
		row := []string{"", at(w.stop.Phones, i), at(w.stop.Domains, i)}
		if i == 0 && !w.checkpoint.IsZero() {
			row[0] = formatCheckpoint(w.checkpoint)
		}
		addStringRow(params, row)
	}

	runs, err := f.AddSheet(SheetRuns)
	if err != nil {
		return eris.Wrap(err, "xlsx: add runs sheet")
	}
	addStringRow(runs, runsHeader)
	for _, r := range w.runs {
		stats, err := json.Marshal(r.Stats)
		if err != nil {
			return eris.Wrapf(err, "xlsx: marshal run %s stats", r.ID)
		}
		addStringRow(runs, []string{
			r.ID, string(r.Kind), formatCellTime(r.StartedAt), formatCellTime(r.FinishedAt), string(stats), r.Error,
		})
	}

	return saveFile(f, path)
}

// WriteContactsXLSX writes contacts to a new workbook at path with the same
// Contacts sheet layout the XLSX store reads.
func WriteContactsXLSX(path string, contacts []model.StagedContact) error {
	f := xlsx.NewFile()
	if err := writeContactsSheet(f, contacts); err != nil {
		return err
	}
	return saveFile(f, path)
}

func writeContactsSheet(f *xlsx.File, contacts []model.StagedContact) error {
	sheet, err := f.AddSheet(SheetContacts)
	if err != nil {
		return eris.Wrap(err, "xlsx: add contacts sheet")
	}
	addStringRow(sheet, contactsHeader)
	for _, c := range contacts {
		addStringRow(sheet, []string{
			c.Email, c.Phone, string(c.Status), formatCellTime(c.LastStatusUpdate), formatCellTime(c.CreatedAt),
		})
	}
	return nil
}

func saveFile(f *xlsx.File, path string) error {
	tmp := path + ".tmp"
	if err := f.Save(tmp); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return eris.Wrapf(os.Rename(tmp, path), "xlsx: replace %s", path)
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// rowCells returns the row's cell strings padded to at least n entries.
func rowCells(row *xlsx.Row, n int) []string {
	cells := make([]string, max(n, len(row.Cells)))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}

func formatCellTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var cellTimeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", model.CheckpointLayout}

func parseCellTime(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range cellTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseCheckpointCell accepts the yyyy/m/d form written by SetCheckpoint and
// the ISO forms spreadsheet editors tend to produce.
func parseCheckpointCell(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, nil
	}
	if t := parseCellTime(v); !t.IsZero() {
		return checkpointDate(t), nil
	}
	return parseCheckpoint(v)
}
