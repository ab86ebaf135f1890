// Copyright 2024 Call Insights Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dataset loads call records from spreadsheet exports and JSON dumps.
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/your-org/call-insights/internal/records"
)

// Load picks a loader from the file extension
func Load(path string) ([]records.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path)
	case ".json":
		return LoadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s", filepath.Ext(path))
	}
}

// LoadJSON reads an array of records, or an object wrapping one under
// "data" or "records"
func LoadJSON(path string) ([]records.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return DecodeJSON(data)
}

// DecodeJSON decodes the formats LoadJSON accepts
func DecodeJSON(data []byte) ([]records.RawRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty dataset")
	}

	var recs []records.RawRecord
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return recs, nil
	}

	var wrapper struct {
		Data    []records.RawRecord `json:"data"`
		Records []records.RawRecord `json:"records"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if wrapper.Data != nil {
		return wrapper.Data, nil
	}
	if wrapper.Records != nil {
		return wrapper.Records, nil
	}
	return nil, fmt.Errorf("no data or records array found")
}

type column int

const (
	colID column = iota
	colAgent
	colQueue
	colDisposition
	colCampaign
	colCustomer
	colCategory
	colSummary
	colInitiated
	colProcessed
	colDuration
	colHold
	colQueueWait
	colTranscript
	colSentiment
	colEntities
	colCategories
)

// headerAliases maps squashed header text to a column
var headerAliases = map[string]column{
	"id":                  colID,
	"callid":              colID,
	"contactid":           colID,
	"agent":               colAgent,
	"agentname":           colAgent,
	"queue":               colQueue,
	"queuename":           colQueue,
	"disposition":         colDisposition,
	"campaign":            colCampaign,
	"customerid":          colCustomer,
	"customer":            colCustomer,
	"primarycategory":     colCategory,
	"category":            colCategory,
	"summary":             colSummary,
	"initiationtimestamp": colInitiated,
	"timestamp":           colInitiated,
	"starttime":           colInitiated,
	"calldate":            colInitiated,
	"processedat":         colProcessed,
	"callduration":        colDuration,
	"duration":            colDuration,
	"holdtime":            colHold,
	"hold":                colHold,
	"queuewaittime":       colQueueWait,
	"queuewait":           colQueueWait,
	"transcript":          colTranscript,
	"sentiment":           colSentiment,
	"sentimentanalysis":   colSentiment,
	"entities":            colEntities,
	"categories":          colCategories,
	"tags":                colCategories,
}

func squashHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LoadXLSX reads the first sheet of a workbook. The first row is the
// header; columns are matched by name, unknown columns are ignored and rows
// without an id get a generated one.
func LoadXLSX(path string) ([]records.RawRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	index := make(map[column]int)
	for i, h := range rows[0] {
		if col, ok := headerAliases[squashHeader(h)]; ok {
			if _, seen := index[col]; !seen {
				index[col] = i
			}
		}
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("no recognised columns in header")
	}

	var out []records.RawRecord
	for _, row := range rows[1:] {
		cell := func(col column) string {
			i, ok := index[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		if isBlank(row) {
			continue
		}
		rec := records.RawRecord{
			ID:                  cell(colID),
			Agent:               cell(colAgent),
			QueueName:           cell(colQueue),
			Disposition:         cell(colDisposition),
			Campaign:            cell(colCampaign),
			CustomerID:          cell(colCustomer),
			PrimaryCategory:     cell(colCategory),
			Summary:             cell(colSummary),
			InitiationTimestamp: cell(colInitiated),
			ProcessedAt:         cell(colProcessed),
			CallDuration:        records.RawJSON(cell(colDuration)),
			HoldTime:            records.RawJSON(cell(colHold)),
			QueueWaitTime:       records.RawJSON(cell(colQueueWait)),
			Transcript:          cell(colTranscript),
			SentimentAnalysis:   records.RawJSON(cell(colSentiment)),
			Entities:            records.RawJSON(cell(colEntities)),
			Categories:          records.RawJSON(cell(colCategories)),
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		out = append(out, rec)
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
