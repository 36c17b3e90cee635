package output

import "encoding/json"

// JSONFormatter renders output as JSON, optionally indented.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) Format(data any) (string, error) {
	var raw []byte
	var err error
	if f.Indent {
		raw, err = json.MarshalIndent(data, "", "  ")
	} else {
		raw, err = json.Marshal(data)
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (f *JSONFormatter) FormatError(serr StructuredError) (string, error) {
	return f.Format(serr)
}

// FormatTable renders rows as an array of objects keyed by header.
func (f *JSONFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(tableToMaps(headers, rows))
}

func tableToMaps(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		out = append(out, obj)
	}
	return out
}
