package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		name string
		pred func(string) bool
		in   string
		want bool
	}{
		{"stdlib", NonStdlibImport, "context", false},
		{"stdlib nested", NonStdlibImport, "database/sql", false},
		{"local module", NonStdlibImport, "cardcore/pkg/domain", false},
		{"third party", NonStdlibImport, "github.com/google/uuid", true},
		{"x repo", NonStdlibImport, "golang.org/x/sync/singleflight", true},
		{"internal", InternalImportForbidden, "cardcore/internal/profiles", true},
		{"pkg", InternalImportForbidden, "cardcore/pkg/domain", false},
		{"prefix exact", PrefixForbidden("cardcore/internal/infra"), "cardcore/internal/infra", true},
		{"prefix child", PrefixForbidden("cardcore/internal/infra"), "cardcore/internal/infra/blob/s3", true},
		{"prefix sibling", PrefixForbidden("cardcore/internal/infra"), "cardcore/internal/infrastructure", false},
		{"any of", AnyOf(NonStdlibImport, InternalImportForbidden), "cardcore/internal/x", true},
		{"any of none", AnyOf(NonStdlibImport, InternalImportForbidden), "fmt", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("%s: pred(%q)=%v want %v", c.name, c.in, got, c.want)
		}
	}
}

// TestAssertNoDirectImports exercises the success path on a temp package with safe imports.
func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	test := []byte("package tmp\nimport \"github.com/google/go-cmp/cmp\"\nvar _ = cmp.Diff")
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), test, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, NonStdlibImport, "test files are ignored")
}

type captureFatal struct{ msg string }

func (c *captureFatal) Fatalf(format string, args ...any) {
	c.msg = format
	if len(args) > 1 {
		c.msg = args[1].(string)
	}
}

func TestDirectImportViolationsReported(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport (\n\"github.com/google/uuid\"\n\"fmt\"\n)\nvar _ = uuid.New\nvar _ = fmt.Sprint")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, NonStdlibImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "github.com/google/uuid") {
		t.Fatalf("unexpected violations %v", viols)
	}
	var c captureFatal
	failIfDirectViolations(&c, "stdlib only", viols)
	if !strings.Contains(c.msg, "github.com/google/uuid") {
		t.Fatalf("expected violation in failure message, got %q", c.msg)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), NonStdlibImport); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
