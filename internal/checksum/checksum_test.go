package checksum

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSumFileMatchesSum(t *testing.T) {
	data := []byte("distributed wiki\n")
	p := filepath.Join(t.TempDir(), "a")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := SumFile(p)
	if err != nil {
		t.Fatalf("SumFile: %v", err)
	}
	if got != Sum(data) {
		t.Errorf("SumFile = %s, Sum = %s", got, Sum(data))
	}
}

func TestSumFileMissing(t *testing.T) {
	if _, err := SumFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}
