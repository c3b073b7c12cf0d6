/*
Copyright (c) 2022 PaddlePaddle Authors. All Rights Reserve.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is a prediction payload parsed into named and typed columns
type Table struct {
	Columns []string
	// Types is empty for a column whose values are all null
	Types   map[string]string
	Records []map[string]interface{}
}

type splitPayload struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

// ParsePayload accepts a json array of records or a pandas split object {"columns", "data"}
func ParsePayload(payload []byte) (*Table, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var records []map[string]interface{}
	var columns []string
	switch trimmed[0] {
	case '[':
		if err := decode(trimmed, &records); err != nil {
			return nil, fmt.Errorf("payload is not a list of records: %v", err)
		}
		seen := map[string]bool{}
		for _, record := range records {
			for _, col := range sortedKeys(record) {
				if !seen[col] {
					seen[col] = true
					columns = append(columns, col)
				}
			}
		}
	case '{':
		split := splitPayload{}
		if err := decode(trimmed, &split); err != nil {
			return nil, fmt.Errorf("payload is not a split object: %v", err)
		}
		if len(split.Columns) == 0 {
			return nil, fmt.Errorf("split payload has no columns")
		}
		columns = split.Columns
		for i, row := range split.Data {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(columns))
			}
			record := make(map[string]interface{}, len(columns))
			for j, col := range columns {
				record[col] = row[j]
			}
			records = append(records, record)
		}
	default:
		return nil, fmt.Errorf("payload must be a json array or object")
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("payload has no rows")
	}

	types := make(map[string]string, len(columns))
	for _, col := range columns {
		t, err := inferType(col, records)
		if err != nil {
			return nil, err
		}
		if t != "" {
			types[col] = t
		}
	}
	return &Table{Columns: columns, Types: types, Records: records}, nil
}

// MarshalRecords renders the table in the pandas records orientation accepted by the model server
func (t *Table) MarshalRecords() ([]byte, error) {
	return json.Marshal(t.Records)
}

func (t *Table) numericColumn(col string) []float64 {
	values := make([]float64, 0, len(t.Records))
	for _, record := range t.Records {
		if n, ok := record[col].(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				values = append(values, f)
			}
		}
	}
	return values
}

func decode(data []byte, v interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(v)
}

func inferType(col string, records []map[string]interface{}) (string, error) {
	inferred := ""
	for _, record := range records {
		var t string
		switch v := record[col].(type) {
		case nil:
			continue
		case json.Number:
			t = TypeFloat
			if isIntegral(v) {
				t = TypeInt
			}
		case string:
			t = TypeString
		case bool:
			t = TypeBool
		default:
			return "", fmt.Errorf("column %s has a nested value", col)
		}
		switch {
		case inferred == "" || inferred == t:
			inferred = t
		case isNumeric(inferred) && isNumeric(t):
			inferred = TypeFloat
		default:
			return "", fmt.Errorf("column %s mixes %s and %s values", col, inferred, t)
		}
	}
	return inferred, nil
}

func isIntegral(n json.Number) bool {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func isNumeric(t string) bool {
	return t == TypeInt || t == TypeFloat
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// records carry no column order, keep the output stable
	sort.Strings(keys)
	return keys
}
