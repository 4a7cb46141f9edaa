package record

import (
	"fmt"
	"strings"

	"github.com/devexperts/QD-sub012/errs"
)

// FieldType is the wire type of a record field.
type FieldType uint8

const (
	FieldInt     FieldType = 0x1 // FieldInt is a compact int32.
	FieldDecimal FieldType = 0x2 // FieldDecimal is a packed decimal written as a compact int.
	FieldLong    FieldType = 0x3 // FieldLong is a compact int64.
	FieldString  FieldType = 0x4 // FieldString is a UTF-8 string.
	FieldBytes   FieldType = 0x5 // FieldBytes is a byte array.
)

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "int"
	case FieldDecimal:
		return "decimal"
	case FieldLong:
		return "long"
	case FieldString:
		return "string"
	case FieldBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// ParseFieldType parses the name returned by FieldType.String.
func ParseFieldType(s string) (FieldType, error) {
	for t := FieldInt; t <= FieldBytes; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}

	return 0, fmt.Errorf("%w: unknown field type %q", errs.ErrInvalidArgument, s)
}

// Field describes one data field of a record.
type Field struct {
	Name string
	Type FieldType
}

// Record describes the layout of one event type.
type Record struct {
	ID     int
	Name   string
	Fields []Field
	// TimeSeries records carry EventTime and EventSequence.
	TimeSeries bool
}

// NewRecord creates a record description.
func NewRecord(id int, name string, timeSeries bool, fields ...Field) *Record {
	return &Record{ID: id, Name: name, Fields: fields, TimeSeries: timeSeries}
}

// FieldIndex returns the position of the named field or -1.
func (r *Record) FieldIndex(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}

	return -1
}

func (r *Record) String() string {
	return r.Name
}

// Scheme is an immutable set of records addressable by id and by name.
type Scheme struct {
	records []*Record
	byID    map[int]*Record
	byName  map[string]*Record
}

// NewScheme builds a scheme. Duplicate ids or names are rejected.
func NewScheme(records ...*Record) (*Scheme, error) {
	s := &Scheme{
		records: make([]*Record, 0, len(records)),
		byID:    make(map[int]*Record, len(records)),
		byName:  make(map[string]*Record, len(records)),
	}
	for _, r := range records {
		if _, ok := s.byID[r.ID]; ok {
			return nil, fmt.Errorf("%w: duplicate record id %d", errs.ErrInvalidArgument, r.ID)
		}
		if _, ok := s.byName[r.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate record name %q", errs.ErrInvalidArgument, r.Name)
		}
		s.records = append(s.records, r)
		s.byID[r.ID] = r
		s.byName[r.Name] = r
	}

	return s, nil
}

// MustScheme is NewScheme that panics on error.
func MustScheme(records ...*Record) *Scheme {
	s, err := NewScheme(records...)
	if err != nil {
		panic(err)
	}

	return s
}

// ByID returns the record with the given id.
func (s *Scheme) ByID(id int) (*Record, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// ByName returns the record with the given name.
func (s *Scheme) ByName(name string) (*Record, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// Records returns the records in definition order.
func (s *Scheme) Records() []*Record {
	return s.records
}

// Len returns the number of records.
func (s *Scheme) Len() int {
	return len(s.records)
}
