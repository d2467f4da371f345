package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetPIDPath(t *testing.T) {
	abs := "/tmp/chatline-test.pid"
	assert.Equal(t, abs, GetPIDPath(abs))

	assert.Equal(t, DefaultPIDPath, GetPIDPath(""))
	assert.Equal(t, DefaultPIDPath, GetPIDPath(filepath.Join("missing-dir", "x", "chatline.pid")))

	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	tmp := t.TempDir()
	_ = os.Chdir(tmp)

	got := GetPIDPath("chatline.pid")
	exp, _ := filepath.EvalSymlinks(tmp)
	realGot, _ := filepath.EvalSymlinks(filepath.Dir(got))
	assert.Equal(t, exp, realGot)
	assert.Equal(t, "chatline.pid", filepath.Base(got))
}
