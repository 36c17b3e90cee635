package output

import "gopkg.in/yaml.v3"

// YAMLFormatter renders output as YAML.
type YAMLFormatter struct{}

func (f *YAMLFormatter) Format(data any) (string, error) {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (f *YAMLFormatter) FormatError(serr StructuredError) (string, error) {
	return f.Format(serr)
}

// FormatTable renders rows as a sequence of maps keyed by header.
func (f *YAMLFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(tableToMaps(headers, rows))
}
