package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteTableAlignsCountsAndTruncates(t *testing.T) {
	var buf bytes.Buffer
	columns := []tableColumn{col("INSTANCE"), countCol("PENDING"), wideCol("STORE", 10)}
	rows := [][]string{
		{"prod", "7", "/var/lib/approvalq/instances/prod/database/lending_app_prod.db"},
		{"dev", "120", ""},
	}
	if err := writeTable(&buf, columns, rows); err != nil {
		t.Fatalf("writeTable: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"INSTANCE  PENDING  STORE",
		"prod            7  /var/li...",
		"dev           120  -",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestWriteTableWideRunes(t *testing.T) {
	var buf bytes.Buffer
	if err := writeTable(&buf, []tableColumn{col("ITEM"), col("AGE")}, [][]string{{"貸付金", "2m"}, {"x", "1h"}}); err != nil {
		t.Fatalf("writeTable: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// The first column is six cells wide, so "x" is padded by five plus the gap.
	if got := strings.Index(lines[2], "1h"); got != 8 {
		t.Fatalf("misaligned wide-rune column:\n%s", buf.String())
	}
}
