package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/w33zl3p00tch/sesame/container"
	"github.com/w33zl3p00tch/sesame/guard"
	"github.com/w33zl3p00tch/sesame/pipeline"
	"github.com/w33zl3p00tch/sesame/prompt"
)

type harness struct {
	p      *pipeline.Pipeline
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func expired(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func never(time.Duration) <-chan time.Time { return nil }

// newHarness answers prompts from answers. An empty answers string means
// nobody ever types anything.
func newHarness(t *testing.T, password, answers string, force bool) *harness {
	t.Helper()
	h := &harness{}
	var in io.Reader = strings.NewReader(answers)
	clock := never
	if answers == "" {
		r, w := io.Pipe()
		t.Cleanup(func() { w.Close() })
		in, clock = r, expired
	}
	pr := prompt.New(in, &h.stderr)
	pr.After = clock
	h.p = &pipeline.Pipeline{
		Guard:       &guard.Guard{Prompter: pr, Stdout: &h.stdout, Stderr: &h.stderr, Force: force},
		Credentials: pipeline.StaticPassword([]byte(password)),
		Stdout:      &h.stdout,
		Stderr:      &h.stderr,
	}
	return h
}

func params(t *testing.T) container.Params {
	t.Helper()
	p, err := container.NewParams(container.ModeAES, container.KDFScrypt, container.StrengthLow)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func stat(t *testing.T, path string) os.FileInfo {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return fi
}

func mustNotExist(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Fatalf("%s exists (err %v)", path, err)
	}
}

func encrypt(t *testing.T, h *harness, output string, inputs ...string) string {
	t.Helper()
	out, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{Inputs: inputs, Output: output, Params: params(t)})
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return out
}

func TestDeriveOutput(t *testing.T) {
	cases := []struct {
		op       pipeline.Op
		inputs   []string
		explicit string
		want     string
		usage    bool
	}{
		{pipeline.Encrypt, []string{"/a/file.txt"}, "", "/a/file.txt.sesame", false},
		{pipeline.Encrypt, []string{"/a/dir/"}, "", "/a/dir.sesame", false},
		{pipeline.Encrypt, []string{"/a/x.sesame"}, "", "/a/x.sesame.sesame", false},
		{pipeline.Encrypt, []string{"/a", "/b"}, "", "", true},
		{pipeline.Encrypt, []string{"/a", "/b"}, "/out", "/out", false},
		{pipeline.Encrypt, nil, "/out", "", true},
		{pipeline.Decrypt, []string{"/a/file.txt.sesame"}, "", "/a/file.txt", false},
		{pipeline.Decrypt, []string{"/a/file.txt"}, "", "", true},
		{pipeline.Decrypt, []string{"/a/.sesame"}, "", "", true},
		{pipeline.Decrypt, []string{"/a/file.txt"}, "/b", "/b", false},
		{pipeline.Decrypt, []string{"/a", "/b"}, "/b", "", true},
	}
	for _, tc := range cases {
		got, err := pipeline.DeriveOutput(tc.op, tc.inputs, tc.explicit)
		if tc.usage {
			if !errors.Is(err, pipeline.ErrUsage) {
				t.Errorf("%s %v %q: got %q, %v; want usage error", tc.op, tc.inputs, tc.explicit, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s %v %q: got %q, %v; want %q", tc.op, tc.inputs, tc.explicit, got, err, tc.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("disk on fire"), 1},
		{pipeline.Usagef("bad"), 2},
		{&pipeline.Error{Kind: pipeline.ErrMissingInput, Path: "/x"}, 3},
		{&pipeline.Error{Kind: pipeline.ErrOverwriteAborted}, 4},
		{&pipeline.Error{Kind: pipeline.ErrDecryptionFailed, Err: container.ErrDecrypt}, 5},
		{&pipeline.Error{Kind: pipeline.ErrArchiveCorrupt}, 6},
	}
	for _, tc := range cases {
		if got := pipeline.ExitCode(tc.err); got != tc.want {
			t.Errorf("ExitCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRoundTripFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "7f0c7f3e-5b5e-4a8e-9a53-4a3c9b0e9d11")

	h := newHarness(t, "p", "", false)
	out := encrypt(t, h, "", src)
	if out != src+".sesame" {
		t.Fatalf("output %s", out)
	}
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}

	written, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(written) != 1 || written[0] != src {
		t.Fatalf("written %v", written)
	}
	if got := read(t, src); got != "7f0c7f3e-5b5e-4a8e-9a53-4a3c9b0e9d11" {
		t.Fatalf("content %q", got)
	}
	if !strings.Contains(h.stdout.String(), "Encrypted file: "+out) {
		t.Errorf("stdout lacks the report: %q", h.stdout.String())
	}
}

func TestRoundTripDirectory(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	files := map[string]string{
		"a.txt":         "alpha",
		"sub/b.txt":     "beta",
		"sub/deep/c.md": "gamma",
	}
	for name, content := range files {
		write(t, filepath.Join(tree, name), content)
	}

	h := newHarness(t, "p", "", false)
	out := encrypt(t, h, "", tree)
	if err := os.RemoveAll(tree); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	for name, content := range files {
		if got := read(t, filepath.Join(tree, name)); got != content {
			t.Errorf("%s = %q, want %q", name, got, content)
		}
	}
}

func TestMultipleInputsNeedOutput(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a"), filepath.Join(dir, "b")
	write(t, a, "1")
	write(t, b, "2")

	h := newHarness(t, "p", "", false)
	_, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{Inputs: []string{a, b}, Params: params(t)})
	if !errors.Is(err, pipeline.ErrUsage) || pipeline.ExitCode(err) == pipeline.ExitOverwriteAborted {
		t.Fatalf("got %v, want usage error", err)
	}
	mustNotExist(t, a+".sesame")
}

func TestMultipleInputsRestoreBesideContainer(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "1.test"), filepath.Join(dir, "2.test")
	write(t, a, "one")
	write(t, b, "two")

	h := newHarness(t, "p", "", false)
	out := encrypt(t, h, filepath.Join(dir, "both.sesame"), a, b)
	os.Remove(a)
	os.Remove(b)

	written, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out})
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("written %v", written)
	}
	if read(t, a) != "one" || read(t, b) != "two" {
		t.Fatal("content mismatch")
	}
	mustNotExist(t, filepath.Join(dir, "both"))
}

func TestDecryptIntoExplicitDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "data")
	h := newHarness(t, "p", "", false)
	out := encrypt(t, h, "", src)

	dest := filepath.Join(dir, "restore")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out, Output: dest}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got := read(t, filepath.Join(dest, "file.test")); got != "data" {
		t.Fatalf("content %q", got)
	}

	renamed := filepath.Join(dir, "renamed.txt")
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out, Output: renamed}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got := read(t, renamed); got != "data" {
		t.Fatalf("content %q", got)
	}
}

func TestOverwriteTimeoutKeepsTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "new")
	target := filepath.Join(dir, "other.sesame")
	write(t, target, "precious")
	before := stat(t, target)

	h := newHarness(t, "p", "", false)
	_, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{Inputs: []string{src}, Output: target, Params: params(t)})
	if !errors.Is(err, pipeline.ErrOverwriteAborted) {
		t.Fatalf("got %v, want ErrOverwriteAborted", err)
	}
	if code := pipeline.ExitCode(err); code != 4 {
		t.Fatalf("exit code %d, want 4", code)
	}
	if !os.SameFile(before, stat(t, target)) || read(t, target) != "precious" {
		t.Fatal("target was modified")
	}
	if !strings.Contains(h.stderr.String(), "File exists at") {
		t.Errorf("stderr %q", h.stderr.String())
	}
	if !strings.Contains(h.stdout.String(), "Aborted on timeout") {
		t.Errorf("stdout %q", h.stdout.String())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("stray files left behind: %v", entries)
	}
}

func TestOverwriteDeclined(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "new")
	write(t, src+".sesame", "precious")

	h := newHarness(t, "p", "no\n", false)
	_, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{Inputs: []string{src}, Params: params(t)})
	if pipeline.ExitCode(err) != 4 {
		t.Fatalf("got %v, want exit 4", err)
	}
	if !strings.Contains(h.stdout.String(), "Aborted.") {
		t.Errorf("stdout %q", h.stdout.String())
	}
	if read(t, src+".sesame") != "precious" {
		t.Fatal("target was modified")
	}
}

func TestOverwriteConfirmed(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "new")
	write(t, src+".sesame", "precious")

	h := newHarness(t, "p", "y\n", false)
	out := encrypt(t, h, "", src)
	os.Remove(src)
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if read(t, src) != "new" {
		t.Fatal("content mismatch")
	}
}

func TestForceReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "fresh content")
	target := src + ".sesame"
	write(t, target, "stale")
	before := stat(t, target)

	h := newHarness(t, "p", "", true)
	encrypt(t, h, "", src)
	if os.SameFile(before, stat(t, target)) {
		t.Fatal("target identity unchanged after forced overwrite")
	}
	if strings.Contains(h.stderr.String(), "File exists at") {
		t.Fatal("forced run prompted")
	}

	// Decrypting over the still present input replaces it as well.
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: target}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if read(t, src) != "fresh content" {
		t.Fatal("round trip mismatch")
	}
}

func TestForceReplacesDirectory(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	write(t, filepath.Join(tree, "keep.txt"), "v1")
	h := newHarness(t, "p", "", true)
	out := encrypt(t, h, "", tree)

	write(t, filepath.Join(tree, "extra.txt"), "added later")
	write(t, filepath.Join(tree, "keep.txt"), "v2")
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if read(t, filepath.Join(tree, "keep.txt")) != "v1" {
		t.Fatal("directory not replaced")
	}
	mustNotExist(t, filepath.Join(tree, "extra.txt"))

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".sesame") {
			t.Errorf("scratch entry left behind: %s", e.Name())
		}
	}
}

func TestWrongPasswordTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "file.test")
	write(t, src, "secret")
	out := encrypt(t, newHarness(t, "right", "", false), "", src)

	// Missing output stays missing.
	os.Remove(src)
	h := newHarness(t, "wrong", "", false)
	_, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out})
	if !errors.Is(err, pipeline.ErrDecryptionFailed) || errors.Is(err, pipeline.ErrOverwriteAborted) {
		t.Fatalf("got %v, want ErrDecryptionFailed", err)
	}
	mustNotExist(t, src)

	// Existing output is neither prompted for nor changed.
	write(t, src, "untouched")
	before := stat(t, src)
	h = newHarness(t, "wrong", "", false)
	_, err = h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out})
	if pipeline.ExitCode(err) != pipeline.ExitDecryptionFailed {
		t.Fatalf("got %v, want exit %d", err, pipeline.ExitDecryptionFailed)
	}
	if strings.Contains(h.stderr.String(), "File exists at") {
		t.Fatal("guard ran before decryption succeeded")
	}
	if !os.SameFile(before, stat(t, src)) || read(t, src) != "untouched" {
		t.Fatal("output modified")
	}
}

func TestDecryptErrors(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, "p", "", false)

	_, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: filepath.Join(dir, "gone.sesame")})
	if !errors.Is(err, pipeline.ErrMissingInput) {
		t.Fatalf("missing container: got %v", err)
	}

	plain := filepath.Join(dir, "notes.txt")
	write(t, plain, "hello")
	_, err = h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: plain})
	if !errors.Is(err, pipeline.ErrUsage) {
		t.Fatalf("no suffix: got %v", err)
	}

	fake := filepath.Join(dir, "fake.sesame")
	write(t, fake, "hello")
	_, err = h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: fake})
	if !errors.Is(err, pipeline.ErrDecryptionFailed) {
		t.Fatalf("not a container: got %v", err)
	}
}

func TestArchiveCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.sesame")
	var buf bytes.Buffer
	if _, err := container.Encrypt(&buf, strings.NewReader("this is not a tar stream"), []byte("p"), params(t)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, "p", "", false)
	_, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: path})
	if !errors.Is(err, pipeline.ErrArchiveCorrupt) || pipeline.ExitCode(err) != pipeline.ExitArchiveCorrupt {
		t.Fatalf("got %v, want ErrArchiveCorrupt", err)
	}
	mustNotExist(t, filepath.Join(dir, "junk"))
}

func TestEncryptMissingInput(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, "p", "", false)
	_, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{
		Inputs: []string{filepath.Join(dir, "nope")},
		Params: params(t),
	})
	if !errors.Is(err, pipeline.ErrMissingInput) || pipeline.ExitCode(err) != pipeline.ExitMissingInput {
		t.Fatalf("got %v, want ErrMissingInput", err)
	}
}

func TestEmptyPasswordRejected(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "f")
	write(t, src, "x")
	h := newHarness(t, "", "", false)
	_, err := h.p.Encrypt(context.Background(), pipeline.EncryptRequest{Inputs: []string{src}, Params: params(t)})
	if !errors.Is(err, pipeline.ErrUsage) {
		t.Fatalf("got %v, want usage error", err)
	}
	mustNotExist(t, src+".sesame")
}

func TestGuardRunsForEveryEntryBeforeWriting(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "1.test"), filepath.Join(dir, "2.test")
	write(t, a, "one")
	write(t, b, "two")
	out := encrypt(t, newHarness(t, "p", "", false), filepath.Join(dir, "both.sesame"), a, b)

	os.Remove(a)
	write(t, b, "existing")
	before := stat(t, b)

	h := newHarness(t, "p", "", false)
	_, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out})
	if pipeline.ExitCode(err) != pipeline.ExitOverwriteAborted {
		t.Fatalf("got %v, want exit %d", err, pipeline.ExitOverwriteAborted)
	}
	mustNotExist(t, a)
	if !os.SameFile(before, stat(t, b)) || read(t, b) != "existing" {
		t.Fatal("existing entry was modified")
	}
	if got := strings.Count(h.stderr.String(), "File exists at"); got != 1 {
		t.Fatalf("%d exists notices, want 1: %q", got, h.stderr.String())
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".sesame") {
			t.Errorf("scratch entry left behind: %s", e.Name())
		}
	}
}

func TestGuardAsksOnceForDirectory(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree")
	write(t, filepath.Join(tree, "a.txt"), "alpha")
	write(t, filepath.Join(tree, "sub", "b.txt"), "beta")
	out := encrypt(t, newHarness(t, "p", "", false), "", tree)

	write(t, filepath.Join(tree, "a.txt"), "changed")
	write(t, filepath.Join(tree, "sub", "stray.txt"), "stray")

	h := newHarness(t, "p", "yes\n", false)
	if _, err := h.p.Decrypt(context.Background(), pipeline.DecryptRequest{Container: out}); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got := strings.Count(h.stderr.String(), "File exists at"); got != 1 {
		t.Fatalf("%d exists notices, want 1: %q", got, h.stderr.String())
	}
	if !strings.Contains(h.stderr.String(), "File exists at "+tree) {
		t.Errorf("notice not about the top-level directory: %q", h.stderr.String())
	}
	if read(t, filepath.Join(tree, "a.txt")) != "alpha" || read(t, filepath.Join(tree, "sub", "b.txt")) != "beta" {
		t.Fatal("tree not restored")
	}
	mustNotExist(t, filepath.Join(tree, "sub", "stray.txt"))
}
