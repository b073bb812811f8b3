package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"timetracker/internal/model"
)

const recordFileExt = ".yaml"

type yamlBreak struct {
	Kind  string     `yaml:"kind"`
	Start time.Time  `yaml:"start"`
	End   *time.Time `yaml:"end,omitempty"`
}

type yamlSession struct {
	ID         string      `yaml:"id"`
	UserID     string      `yaml:"user_id"`
	Date       string      `yaml:"date"`
	ClockInAt  time.Time   `yaml:"clock_in_at"`
	ClockOutAt *time.Time  `yaml:"clock_out_at,omitempty"`
	Breaks     []yamlBreak `yaml:"breaks"`
	Status     string      `yaml:"status"`
	TotalHours *float64    `yaml:"total_hours,omitempty"`
}

type yamlRecord struct {
	UserID                 string        `yaml:"user_id"`
	EyeCareEnabled         bool          `yaml:"eye_care_enabled"`
	EyeCareIntervalMinutes float64       `yaml:"eye_care_interval_minutes"`
	LastReminderAt         time.Time     `yaml:"last_reminder_at"`
	Session                *yamlSession  `yaml:"session,omitempty"`
	History                []yamlSession `yaml:"history,omitempty"`
	UpdatedAt              time.Time     `yaml:"updated_at"`
}

// File keeps one YAML document per user under dir.
type File struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &File{
		dir: dir,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (f *File) Get(_ context.Context, userID string) (model.Record, error) {
	if err := validUserID(userID); err != nil {
		return model.Record{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(f.path(userID))
}

func (f *File) Set(_ context.Context, userID string, patch model.Patch) error {
	if err := validUserID(userID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(userID)
	record, err := f.read(path)
	if errors.Is(err, ErrNotFound) {
		record = model.NewRecord(userID)
	} else if err != nil {
		return err
	}

	serialized, err := yaml.Marshal(toYAMLRecord(Merge(record, patch, f.now())))
	if err != nil {
		return fmt.Errorf("marshal record yaml: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0o644); err != nil {
		return fmt.Errorf("write record file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace record file: %w", err)
	}
	return nil
}

func (f *File) List(_ context.Context) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}
	var records []model.Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordFileExt) {
			continue
		}
		record, err := f.read(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
	return records, nil
}

func (f *File) path(userID string) string {
	return filepath.Join(f.dir, userID+recordFileExt)
}

func (f *File) read(path string) (model.Record, error) {
	rawData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Record{}, ErrNotFound
		}
		return model.Record{}, fmt.Errorf("read record file: %w", err)
	}
	var fileData yamlRecord
	if err := yaml.Unmarshal(rawData, &fileData); err != nil {
		return model.Record{}, fmt.Errorf("parse record yaml: %w", err)
	}
	return fromYAMLRecord(fileData), nil
}

func toYAMLRecord(record model.Record) yamlRecord {
	out := yamlRecord{
		UserID:                 record.UserID,
		EyeCareEnabled:         record.Preferences.EyeCareEnabled,
		EyeCareIntervalMinutes: record.Preferences.EyeCareIntervalMinutes,
		LastReminderAt:         record.Preferences.LastReminderAt,
		UpdatedAt:              record.UpdatedAt,
	}
	if record.Session != nil {
		session := toYAMLSession(*record.Session)
		out.Session = &session
	}
	for _, s := range record.History {
		out.History = append(out.History, toYAMLSession(s))
	}
	return out
}

func toYAMLSession(s model.WorkSession) yamlSession {
	out := yamlSession{
		ID:         s.ID,
		UserID:     s.UserID,
		Date:       s.Date,
		ClockInAt:  s.ClockInAt,
		ClockOutAt: s.ClockOutAt,
		Breaks:     make([]yamlBreak, 0, len(s.Breaks)),
		Status:     string(s.Status),
		TotalHours: s.TotalHours,
	}
	for _, b := range s.Breaks {
		out.Breaks = append(out.Breaks, yamlBreak{Kind: string(b.Kind), Start: b.Start, End: b.End})
	}
	return out
}

func fromYAMLRecord(fileData yamlRecord) model.Record {
	record := model.NewRecord(fileData.UserID)
	record.Preferences.EyeCareEnabled = fileData.EyeCareEnabled
	if fileData.EyeCareIntervalMinutes > 0 {
		record.Preferences.EyeCareIntervalMinutes = fileData.EyeCareIntervalMinutes
	}
	record.Preferences.LastReminderAt = fileData.LastReminderAt
	record.UpdatedAt = fileData.UpdatedAt
	if fileData.Session != nil {
		session := fromYAMLSession(*fileData.Session)
		record.Session = &session
	}
	for _, s := range fileData.History {
		record.History = append(record.History, fromYAMLSession(s))
	}
	return record
}

func fromYAMLSession(s yamlSession) model.WorkSession {
	out := model.WorkSession{
		ID:         s.ID,
		UserID:     s.UserID,
		Date:       s.Date,
		ClockInAt:  s.ClockInAt,
		ClockOutAt: s.ClockOutAt,
		Breaks:     make([]model.Break, 0, len(s.Breaks)),
		Status:     model.Status(s.Status),
		TotalHours: s.TotalHours,
	}
	for _, b := range s.Breaks {
		out.Breaks = append(out.Breaks, model.Break{Kind: model.BreakKind(b.Kind), Start: b.Start, End: b.End})
	}
	return out
}
