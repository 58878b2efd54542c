/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/timeline"
)

// MinColumns is the number of leading columns every row must carry:
// time, source, mix, item.
const MinColumns = 4

var headerTokens = map[string]bool{
	"time": true,
	"時刻":   true,
	"タイム":  true,
}

// Diagnostic describes a row that was skipped.
type Diagnostic struct {
	Line   int
	Reason string
	Err    error
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", d.Line, d.Reason, d.Err)
	}
	return fmt.Sprintf("line %d: %s", d.Line, d.Reason)
}

// Parser turns timetable rows into records for one broadcast day.
type Parser struct {
	clock *clock.Clock
}

// NewParser returns a parser resolving times with c.
func NewParser(c *clock.Clock) *Parser {
	return &Parser{clock: c}
}

// Parse reads every row of r. Malformed rows are skipped and reported as
// diagnostics; only an unreadable stream is an error.
func (p *Parser) Parse(r io.Reader, day clock.Day) ([]timeline.Record, []Diagnostic, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var (
		records []timeline.Record
		diags   []Diagnostic
	)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				diags = append(diags, Diagnostic{Line: perr.Line, Reason: "unreadable row", Err: err})
				continue
			}
			return nil, diags, fmt.Errorf("read timetable: %w", err)
		}
		line, _ := reader.FieldPos(0)

		if len(row) < MinColumns {
			diags = append(diags, Diagnostic{Line: line, Reason: fmt.Sprintf("expected at least %d columns, got %d", MinColumns, len(row))})
			continue
		}

		timeField := strings.TrimSpace(row[0])
		if timeField == "" || headerTokens[strings.ToLower(timeField)] {
			continue
		}

		at, err := p.clock.Resolve(timeField, day)
		if err != nil {
			diags = append(diags, Diagnostic{Line: line, Reason: "bad time", Err: err})
			continue
		}

		key := strings.TrimSpace(row[3])
		records = append(records, timeline.Record{
			ID:          uuid.NewString(),
			ScheduledAt: at,
			SourceTag:   strings.TrimSpace(row[1]),
			MixTag:      strings.TrimSpace(row[2]),
			ItemKey:     key,
			Kind:        timeline.ClassifyKey(key),
			Day:         day,
			Row:         line,
		})
	}
	return records, diags, nil
}
