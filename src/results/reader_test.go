package results

import (
	"os"
	"path/filepath"
	"testing"
)

func writeArtifact(t *testing.T, root, builder, file, content string) string {
	t.Helper()
	dir := filepath.Join(root, builder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestLookup_MissingFileIsUnavailable(t *testing.T) {
	reader := NewReader(t.TempDir())

	res := reader.Lookup("linux-x86_64", 4821)
	if res.State != StateUnavailable {
		t.Errorf("expected %q, got %q", StateUnavailable, res.State)
	}
	if len(res.Failures) != 0 {
		t.Errorf("unavailable result must carry no failures, got %d", len(res.Failures))
	}
}

func TestLookup_ParsedWithFailures(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "linux-x86_64", "build-4821.xml", `<testsuite name="s" tests="2" failures="2" errors="0">
  <testcase name="test_a" classname="t"><failure message="a"/></testcase>
  <testcase name="test_b" classname="t"><failure message="b"/></testcase>
</testsuite>`)

	reader := NewReader(root)
	res := reader.Lookup("linux-x86_64", 4821)
	if res.State != StateParsed {
		t.Fatalf("expected %q, got %q (defect: %s)", StateParsed, res.State, res.Defect)
	}
	if len(res.Failures) != 2 {
		t.Errorf("expected 2 failures, got %d", len(res.Failures))
	}
	if res.ModTime.IsZero() {
		t.Errorf("parsed result must carry the file mod time")
	}
}

func TestLookup_MalformedIsParseError(t *testing.T) {
	root := t.TempDir()
	writeArtifact(t, root, "linux-x86_64", "build-5.xml", "garbage <<<")

	reader := NewReader(root)
	res := reader.Lookup("linux-x86_64", 5)
	if res.State != StateParseError {
		t.Fatalf("expected %q, got %q", StateParseError, res.State)
	}
	if res.Defect == "" {
		t.Errorf("parse error must carry a defect message")
	}
}

func TestArtifactPath_SanitizesBuilderName(t *testing.T) {
	reader := NewReader("/mirror")
	got := reader.ArtifactPath("AMD64 Debian PGO/LTO", 12)
	want := filepath.Join("/mirror", "AMD64_Debian_PGO_LTO", "build-12.xml")
	if got != want {
		t.Errorf("ArtifactPath() = %q, want %q", got, want)
	}
}

func TestModTime_ZeroWhenMissing(t *testing.T) {
	reader := NewReader(t.TempDir())
	if mt := reader.ModTime("x", 1); !mt.IsZero() {
		t.Errorf("expected zero mod time for missing file, got %v", mt)
	}
}
