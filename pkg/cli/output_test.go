package cli

import (
	"bytes"
	"encoding/json"
	"testing"
)

type budgetRows struct{}

func (budgetRows) Header() []string { return []string{"BUDGET", "SPENT", "LEDGER"} }

func (budgetRows) Rows() [][]string {
	return [][]string{
		{"monthly", "12.50", "30.00"},
		{"daily, eng", "1.00", "1.00"},
	}
}

func TestTextFormatter(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"plain value", "3 budgets reset", "3 budgets reset\n"},
		{
			name: "tabular",
			data: budgetRows{},
			want: "BUDGET      SPENT  LEDGER\nmonthly     12.50  30.00\ndaily, eng  1.00   1.00\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := (&TextFormatter{}).FormatTo(&buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("FormatTo() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestJSONFormatter(t *testing.T) {
	for _, indent := range []bool{false, true} {
		var buf bytes.Buffer
		data := map[string]any{"checked": 2, "adjusted": 1}
		if err := (&JSONFormatter{Indent: indent}).FormatTo(&buf, data); err != nil {
			t.Fatalf("FormatTo() error = %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if got["checked"] != float64(2) {
			t.Errorf("unexpected output %s", buf.String())
		}
		if indent && !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
			t.Error("expected indented output")
		}
	}
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&CSVFormatter{}).FormatTo(&buf, budgetRows{}); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	want := "BUDGET,SPENT,LEDGER\nmonthly,12.50,30.00\n\"daily, eng\",1.00,1.00\n"
	if buf.String() != want {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), want)
	}

	if err := (&CSVFormatter{}).FormatTo(&buf, 42); err == nil {
		t.Error("expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{"", "*cli.TextFormatter", false},
		{FormatText, "*cli.TextFormatter", false},
		{"JSON", "*cli.JSONFormatter", false},
		{FormatCSV, "*cli.CSVFormatter", false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if tt.wantErr {
				if ExitCode(err) != ExitConfig {
					t.Errorf("expected config error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFormatter() error = %v", err)
			}
			if got := typeName(f); got != tt.want {
				t.Errorf("NewFormatter() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	}
	return "unknown"
}
