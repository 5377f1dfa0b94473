// Package history keeps the loader chain timings of past builds in a SQLite
// database and compares every new build with the one before it.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"

	"github.com/sarchlab/speedmeasure/analysis"
)

const tableName = "loader_builds"

// MissingConfigurationError is returned when a required setting is empty.
type MissingConfigurationError struct {
	Field string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("`%s` is a required field", e.Field)
}

// LoaderInfo is the timing of one loader chain in one build.
type LoaderInfo struct {
	BuildNo    int
	RunID      string
	Name       string
	Time       int64
	Count      int64
	Comparison string
}

// Build is one recorded build.
type Build struct {
	BuildNo int
	RunID   string
	Loaders []LoaderInfo
}

// Store is the build history.
type Store struct {
	*sql.DB

	path string
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, &MissingConfigurationError{Field: "compareLoadersBuild.filePath"}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening build history %s: %w", path, err)
	}

	s := &Store{DB: db, path: path}

	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the location of the database.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) createTable() error {
	fields := strings.Join(structs.Names(LoaderInfo{}), ", \n\t")
	query := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`

	if _, err := s.Exec(query); err != nil {
		return fmt.Errorf("creating table %s: %w", tableName, err)
	}

	return nil
}

// Record stores the loader chains of a build, comparing each chain with the
// same chain of the previous build.
func (s *Store) Record(chains []analysis.ChainStatistics) (*Build, error) {
	if len(chains) == 0 {
		return nil, &analysis.NoDataError{Category: analysis.CategoryLoaders}
	}

	prev, err := s.Last()
	if err != nil {
		return nil, err
	}

	build := &Build{BuildNo: 1, RunID: xid.New().String()}
	if prev != nil {
		build.BuildNo = prev.BuildNo + 1
	}

	for _, c := range chains {
		info := LoaderInfo{
			BuildNo: build.BuildNo,
			RunID:   build.RunID,
			Name:    c.Name(),
			Time:    int64(c.Stats.TotalActiveTime),
			Count:   int64(c.Stats.Count),
		}

		if prev != nil {
			if p, ok := prev.find(info.Name); ok && p.Time > 0 {
				info.Comparison = Compare(info.Time, p.Time)
			}
		}

		build.Loaders = append(build.Loaders, info)
	}

	if err := s.insert(build.Loaders); err != nil {
		return nil, err
	}

	return build, nil
}

func (s *Store) insert(rows []LoaderInfo) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	placeholders := structs.Names(LoaderInfo{})
	for i := range placeholders {
		placeholders[i] = "?"
	}

	stmt, err := tx.Prepare("INSERT INTO " + tableName +
		" VALUES (" + strings.Join(placeholders, ", ") + ")")
	if err != nil {
		return errors.Join(fmt.Errorf("preparing insert: %w", err), tx.Rollback())
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(structs.Values(row)...); err != nil {
			return errors.Join(
				fmt.Errorf("inserting %s: %w", row.Name, err), tx.Rollback())
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing build: %w", err)
	}

	return nil
}

// Builds returns every recorded build, oldest first.
func (s *Store) Builds() ([]Build, error) {
	return s.query("")
}

// Get returns one build, or nil if it was never recorded.
func (s *Store) Get(buildNo int) (*Build, error) {
	builds, err := s.query("WHERE BuildNo = ?", buildNo)
	if err != nil || len(builds) == 0 {
		return nil, err
	}

	return &builds[0], nil
}

// Last returns the most recent build, or nil if there is none.
func (s *Store) Last() (*Build, error) {
	builds, err := s.query(
		"WHERE BuildNo = (SELECT MAX(BuildNo) FROM " + tableName + ")")
	if err != nil || len(builds) == 0 {
		return nil, err
	}

	return &builds[0], nil
}

func (s *Store) query(where string, args ...any) ([]Build, error) {
	query := "SELECT " + strings.Join(structs.Names(LoaderInfo{}), ", ") +
		" FROM " + tableName + " " + where + " ORDER BY BuildNo, rowid"

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading build history: %w", err)
	}
	defer rows.Close()

	var builds []Build

	for rows.Next() {
		var info LoaderInfo

		err := rows.Scan(&info.BuildNo, &info.RunID, &info.Name,
			&info.Time, &info.Count, &info.Comparison)
		if err != nil {
			return nil, fmt.Errorf("reading build history: %w", err)
		}

		n := len(builds)
		if n == 0 || builds[n-1].BuildNo != info.BuildNo {
			builds = append(builds, Build{
				BuildNo: info.BuildNo,
				RunID:   info.RunID,
			})
			n++
		}

		builds[n-1].Loaders = append(builds[n-1].Loaders, info)
	}

	return builds, rows.Err()
}

func (b *Build) find(name string) (LoaderInfo, bool) {
	for _, l := range b.Loaders {
		if l.Name == name {
			return l, true
		}
	}

	return LoaderInfo{}, false
}

// Compare describes how a chain's time changed from the previous build.
func Compare(current, previous int64) string {
	diff := current - previous

	switch {
	case diff > 0:
		return fmt.Sprintf("+%dms (slower)", diff)
	case diff < 0:
		return fmt.Sprintf("-%dms (faster)", -diff)
	default:
		return "0ms (unchanged)"
	}
}
